package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursebridge/coursebridge/internal/cache"
	"github.com/coursebridge/coursebridge/internal/canvas"
	"github.com/coursebridge/coursebridge/internal/gradescope"
	"github.com/coursebridge/coursebridge/internal/metrics"
)

// ErrUnknownTool is returned by Call when no tool carries the requested name.
var ErrUnknownTool = errors.New("tools: unknown tool")

// ArgumentError reports a missing or malformed tool argument.
type ArgumentError struct {
	Tool string
	Key  string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("tools: %s requires argument %q", e.Tool, e.Key)
}

// Arguments is the decoded arguments object of one tool call.
type Arguments map[string]any

// String returns the named argument when it is a non-empty string.
func (a Arguments) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok && v != ""
}

// StringOr returns the named argument or a fallback when absent.
func (a Arguments) StringOr(key, fallback string) string {
	if v, ok := a.String(key); ok {
		return v
	}
	return fallback
}

// Tool is one callable unit: its listing metadata plus the handler. Handlers
// never return Go errors; an upstream failure is already collapsed by the
// clients, so the handler only has to shape the absent case into a payload.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`

	required []string
	run      func(ctx context.Context, args Arguments) any
}

// Registry holds the tool set and dispatches calls with per-tool metrics.
type Registry struct {
	canvas     *canvas.Client
	gradescope *gradescope.Client
	store      *cache.Store
	logger     *slog.Logger
	rec        *metrics.Recorder

	tools  []*Tool
	byName map[string]*Tool
}

// NewRegistry wires the tool set over the two upstream clients. A nil
// gradescope client is valid: its tools stay listed but answer with a
// configuration message instead of data.
func NewRegistry(canvasClient *canvas.Client, gradescopeClient *gradescope.Client, store *cache.Store, logger *slog.Logger, rec *metrics.Recorder) *Registry {
	r := &Registry{
		canvas:     canvasClient,
		gradescope: gradescopeClient,
		store:      store,
		logger:     logger.With(slog.String("component", "tools")),
		rec:        rec,
		byName:     make(map[string]*Tool),
	}
	r.registerCanvasTools()
	r.registerGradescopeTools()
	r.registerCacheTools()
	return r
}

// List returns the tool metadata in registration order.
func (r *Registry) List() []*Tool {
	return r.tools
}

// Call dispatches one tool invocation. ErrUnknownTool and *ArgumentError are
// the only error shapes; every other outcome is a well-formed payload.
func (r *Registry) Call(ctx context.Context, name string, args Arguments) (any, error) {
	tool, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = Arguments{}
	}
	for _, key := range tool.required {
		if _, ok := args.String(key); !ok {
			return nil, &ArgumentError{Tool: name, Key: key}
		}
	}

	start := time.Now()
	result := tool.run(ctx, args)
	outcome := "success"
	if payload, ok := result.(map[string]any); ok {
		if _, failed := payload["error"]; failed {
			outcome = "error"
		}
	}
	r.rec.ObserveTool(name, outcome, time.Since(start))
	r.logger.Debug("tool call completed",
		slog.String("tool", name), slog.String("outcome", outcome))
	return result, nil
}

func (r *Registry) register(t *Tool) {
	r.tools = append(r.tools, t)
	r.byName[t.Name] = t
}

func (r *Registry) registerCanvasTools() {
	r.register(&Tool{
		Name:        "get_courses",
		Description: "List the Canvas courses of the configured user, mapping course name to course id.",
		InputSchema: objectSchema(nil, nil),
		run: func(ctx context.Context, _ Arguments) any {
			courses := r.canvas.Courses(ctx)
			if courses == nil {
				return errorPayload("Failed to retrieve courses")
			}
			return map[string]any{"courses": courses}
		},
	})

	r.register(&Tool{
		Name:        "get_modules",
		Description: "List the modules of a Canvas course.",
		InputSchema: objectSchema([]string{"course_id"}, map[string]any{
			"course_id": stringProp("Canvas course id"),
		}),
		required: []string{"course_id"},
		run: func(ctx context.Context, args Arguments) any {
			courseID := args.StringOr("course_id", "")
			modules := r.canvas.Modules(ctx, courseID)
			if modules == nil {
				return errorPayload("Failed to retrieve modules for course " + courseID)
			}
			return map[string]any{"modules": modules}
		},
	})

	r.register(&Tool{
		Name:        "get_module_items",
		Description: "List the items of a Canvas module, enriching file items with a direct URL and content.",
		InputSchema: objectSchema([]string{"course_id", "module_id"}, map[string]any{
			"course_id": stringProp("Canvas course id"),
			"module_id": stringProp("Canvas module id"),
		}),
		required: []string{"course_id", "module_id"},
		run: func(ctx context.Context, args Arguments) any {
			courseID := args.StringOr("course_id", "")
			moduleID := args.StringOr("module_id", "")
			items := r.canvas.ModuleItems(ctx, courseID, moduleID)
			if items == nil {
				return errorPayload("Failed to retrieve items for module " + moduleID)
			}
			return map[string]any{"items": items}
		},
	})

	r.register(&Tool{
		Name:        "get_file_url",
		Description: "Resolve the direct download URL of a Canvas file.",
		InputSchema: objectSchema([]string{"course_id", "file_id"}, map[string]any{
			"course_id": stringProp("Canvas course id"),
			"file_id":   stringProp("Canvas file id"),
		}),
		required: []string{"course_id", "file_id"},
		run: func(ctx context.Context, args Arguments) any {
			fileID := args.StringOr("file_id", "")
			fileURL := r.canvas.FileURL(ctx, args.StringOr("course_id", ""), fileID)
			if fileURL == "" {
				return errorPayload("Failed to retrieve URL for file " + fileID)
			}
			return map[string]any{"url": fileURL}
		},
	})

	r.register(&Tool{
		Name:        "get_course_assignments",
		Description: "List a Canvas course's assignments, optionally filtered by a due-date bucket (past, overdue, undated, ungraded, unsubmitted, upcoming, future).",
		InputSchema: objectSchema([]string{"course_id"}, map[string]any{
			"course_id": stringProp("Canvas course id"),
			"bucket":    stringProp("Optional due-date bucket filter, passed through to Canvas"),
		}),
		required: []string{"course_id"},
		run: func(ctx context.Context, args Arguments) any {
			courseID := args.StringOr("course_id", "")
			assignments := r.canvas.CourseAssignments(ctx, courseID, args.StringOr("bucket", ""))
			if assignments == nil {
				return errorPayload("Failed to retrieve assignments for course " + courseID)
			}
			return map[string]any{"assignments": assignments}
		},
	})

	r.register(&Tool{
		Name:        "get_assignments_by_course_name",
		Description: "List assignments for the first Canvas course whose name contains the given text.",
		InputSchema: objectSchema([]string{"course_name"}, map[string]any{
			"course_name": stringProp("Full or partial Canvas course name, matched case-insensitively"),
			"bucket":      stringProp("Optional due-date bucket filter, passed through to Canvas"),
		}),
		required: []string{"course_name"},
		run: func(ctx context.Context, args Arguments) any {
			courseName := args.StringOr("course_name", "")
			assignments := r.canvas.AssignmentsByCourseName(ctx, courseName, args.StringOr("bucket", ""))
			if assignments == nil {
				return errorPayload("Failed to retrieve assignments for course " + courseName)
			}
			return map[string]any{"assignments": assignments}
		},
	})
}

func (r *Registry) registerGradescopeTools() {
	r.register(&Tool{
		Name:        "get_gradescope_courses",
		Description: "List the user's Gradescope courses grouped by role (student, instructor).",
		InputSchema: objectSchema(nil, nil),
		run: r.gradescopeRun(func(ctx context.Context, _ Arguments) any {
			groups := r.gradescope.Courses(ctx)
			if groups == nil {
				return errorPayload("Failed to retrieve Gradescope courses")
			}
			return map[string]any{"courses": groups}
		}),
	})

	r.register(&Tool{
		Name:        "get_gradescope_course_by_name",
		Description: "Find the first Gradescope course whose name contains the given text, checking student courses first.",
		InputSchema: objectSchema([]string{"course_name"}, map[string]any{
			"course_name": stringProp("Full or partial Gradescope course name, matched case-insensitively"),
		}),
		required: []string{"course_name"},
		run: r.gradescopeRun(func(ctx context.Context, args Arguments) any {
			courseName := args.StringOr("course_name", "")
			course := r.gradescope.CourseByName(ctx, courseName)
			if course == nil {
				return errorPayload("Failed to retrieve Gradescope course " + courseName)
			}
			return map[string]any{"course": course}
		}),
	})

	r.register(&Tool{
		Name:        "get_gradescope_assignments",
		Description: "List the assignments of a Gradescope course.",
		InputSchema: objectSchema([]string{"course_id"}, map[string]any{
			"course_id": stringProp("Gradescope course id"),
		}),
		required: []string{"course_id"},
		run: r.gradescopeRun(func(ctx context.Context, args Arguments) any {
			courseID := args.StringOr("course_id", "")
			assignments := r.gradescope.Assignments(ctx, courseID)
			if assignments == nil {
				return errorPayload("Failed to retrieve Gradescope assignments for course " + courseID)
			}
			return map[string]any{"assignments": assignments}
		}),
	})

	r.register(&Tool{
		Name:        "get_gradescope_assignment_by_name",
		Description: "Find the first assignment in a Gradescope course whose name contains the given text.",
		InputSchema: objectSchema([]string{"course_id", "assignment_name"}, map[string]any{
			"course_id":       stringProp("Gradescope course id"),
			"assignment_name": stringProp("Full or partial assignment name, matched case-insensitively"),
		}),
		required: []string{"course_id", "assignment_name"},
		run: r.gradescopeRun(func(ctx context.Context, args Arguments) any {
			assignmentName := args.StringOr("assignment_name", "")
			assignment := r.gradescope.AssignmentByName(ctx, args.StringOr("course_id", ""), assignmentName)
			if assignment == nil {
				return errorPayload("Failed to retrieve Gradescope assignment " + assignmentName)
			}
			return map[string]any{"assignment": assignment}
		}),
	})

	r.register(&Tool{
		Name:        "get_gradescope_submissions",
		Description: "List the submissions roster of a Gradescope assignment (instructor view).",
		InputSchema: objectSchema([]string{"course_id", "assignment_id"}, map[string]any{
			"course_id":     stringProp("Gradescope course id"),
			"assignment_id": stringProp("Gradescope assignment id"),
		}),
		required: []string{"course_id", "assignment_id"},
		run: r.gradescopeRun(func(ctx context.Context, args Arguments) any {
			assignmentID := args.StringOr("assignment_id", "")
			submissions := r.gradescope.Submissions(ctx, args.StringOr("course_id", ""), assignmentID)
			if submissions == nil {
				return errorPayload("Failed to retrieve Gradescope submissions for assignment " + assignmentID)
			}
			return map[string]any{"submissions": submissions}
		}),
	})

	r.register(&Tool{
		Name:        "get_gradescope_student_submission",
		Description: "Find one student's submission in a Gradescope assignment roster, matched by email.",
		InputSchema: objectSchema([]string{"course_id", "assignment_id", "student_email"}, map[string]any{
			"course_id":     stringProp("Gradescope course id"),
			"assignment_id": stringProp("Gradescope assignment id"),
			"student_email": stringProp("Student email, matched case-insensitively"),
		}),
		required: []string{"course_id", "assignment_id", "student_email"},
		run: r.gradescopeRun(func(ctx context.Context, args Arguments) any {
			email := args.StringOr("student_email", "")
			submission := r.gradescope.StudentSubmission(ctx,
				args.StringOr("course_id", ""), args.StringOr("assignment_id", ""), email)
			if submission == nil {
				return errorPayload("Failed to retrieve Gradescope submission for student " + email)
			}
			return map[string]any{"submission": submission}
		}),
	})

	r.register(&Tool{
		Name:        "search_gradescope",
		Description: "Answer a natural-language question about Gradescope courses, assignments, or submissions.",
		InputSchema: objectSchema([]string{"query"}, map[string]any{
			"query": stringProp("Natural-language question, e.g. \"what assignments are due in BIO 201?\""),
		}),
		required: []string{"query"},
		run: r.gradescopeRun(func(ctx context.Context, args Arguments) any {
			return r.gradescope.Search(ctx, args.StringOr("query", ""))
		}),
	})
}

func (r *Registry) registerCacheTools() {
	r.register(&Tool{
		Name:        "cache_stats",
		Description: "Report cache size and hit/miss counters.",
		InputSchema: objectSchema(nil, nil),
		run: func(context.Context, Arguments) any {
			return map[string]any{"stats": r.store.Stats()}
		},
	})

	r.register(&Tool{
		Name:        "cache_clear",
		Description: "Drop every cached entry. Hit/miss counters are kept.",
		InputSchema: objectSchema(nil, nil),
		run: func(context.Context, Arguments) any {
			r.store.Clear()
			return map[string]any{"message": "Cache cleared successfully"}
		},
	})
}

// gradescopeRun wraps a handler with the unconfigured-client guard. Missing
// credentials are a deployment choice, not a failure, so the payload is a
// message rather than an error.
func (r *Registry) gradescopeRun(run func(ctx context.Context, args Arguments) any) func(context.Context, Arguments) any {
	return func(ctx context.Context, args Arguments) any {
		if r.gradescope == nil {
			return map[string]any{
				"message": "Gradescope is not configured; set the gradescope email and password to enable this tool",
			}
		}
		return run(ctx, args)
	}
}

func errorPayload(message string) map[string]any {
	return map[string]any{"error": message}
}

func objectSchema(required []string, properties map[string]any) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
