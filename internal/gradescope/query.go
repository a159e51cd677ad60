package gradescope

import (
	"context"
	"maps"
	"slices"
	"strings"
)

// IntentType is the coarse classification a natural-language query maps to.
type IntentType string

const (
	IntentCourses     IntentType = "get_courses"
	IntentAssignments IntentType = "get_assignments"
	IntentSubmission  IntentType = "get_submission"
	IntentUnknown     IntentType = "unknown"
)

// Intent is the classifier verdict. It is heuristic routing, not a
// correctness guarantee: an unmatched query carries a null intent, low
// confidence, and a guidance message for the caller to surface.
type Intent struct {
	Type       IntentType `json:"type"`
	Confidence float64    `json:"confidence"`
	Guidance   string     `json:"guidance,omitempty"`
}

var intentKeywords = []struct {
	intent   IntentType
	keywords []string
}{
	// Submission/grade wording is checked first: queries like "my grade on
	// the homework" mention assignments too but ask about a submission.
	{IntentSubmission, []string{"submission", "submissions", "submitted", "grade", "grades", "graded", "score", "scores", "feedback"}},
	{IntentAssignments, []string{"assignment", "assignments", "homework", "hw", "due", "deadline", "deadlines", "project", "quiz", "exam"}},
	{IntentCourses, []string{"course", "courses", "class", "classes", "enrolled", "teaching"}},
}

// AnalyzeQuery classifies a natural-language query by keyword sets.
func AnalyzeQuery(query string) Intent {
	words := strings.Fields(strings.ToLower(query))
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[strings.Trim(w, ".,!?:;\"'")] = struct{}{}
	}

	bestIntent := IntentUnknown
	bestHits := 0
	for _, set := range intentKeywords {
		hits := 0
		for _, kw := range set.keywords {
			if _, ok := wordSet[kw]; ok {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			bestIntent = set.intent
		}
	}

	if bestIntent == IntentUnknown {
		return Intent{
			Type:       IntentUnknown,
			Confidence: 0.1,
			Guidance:   "Try asking about your courses, assignments, or submissions.",
		}
	}

	confidence := 0.5 + 0.15*float64(bestHits-1)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return Intent{Type: bestIntent, Confidence: confidence}
}

// Search routes a natural-language query to the matching structured call.
// The result is always a well-formed map so the tool layer never has to
// special-case a nil payload: failures carry an "error" key, ambiguity a
// "message" plus enough context to refine the query.
func (c *Client) Search(ctx context.Context, query string) map[string]any {
	intent := AnalyzeQuery(query)

	switch intent.Type {
	case IntentCourses:
		groups := c.Courses(ctx)
		if groups == nil {
			return map[string]any{"error": "Could not retrieve Gradescope courses"}
		}
		return map[string]any{"intent": intent, "courses": groups}

	case IntentAssignments:
		course := c.courseFromQuery(ctx, query)
		if course == nil {
			if groups := c.Courses(ctx); groups != nil {
				return map[string]any{
					"intent":  intent,
					"message": "Please specify which course you're interested in. Here are your courses:",
					"courses": groups,
				}
			}
			return map[string]any{"error": "Could not determine which course to get assignments for"}
		}
		assignments := c.Assignments(ctx, course.ID)
		if assignments == nil {
			return map[string]any{"error": "No assignments found for the course " + course.Name}
		}
		return map[string]any{"intent": intent, "course": course, "assignments": assignments}

	case IntentSubmission:
		course := c.courseFromQuery(ctx, query)
		if course == nil {
			return map[string]any{"error": "Could not determine which course or assignment to get submissions for"}
		}
		assignment := c.assignmentFromQuery(ctx, course.ID, query)
		if assignment == nil {
			return map[string]any{"error": "Could not determine which course or assignment to get submissions for"}
		}
		submissions := c.Submissions(ctx, course.ID, assignment.ID)
		if submissions == nil {
			return map[string]any{"error": "No submissions found for the assignment " + assignment.Name}
		}
		return map[string]any{"intent": intent, "assignment": assignment, "submissions": submissions}

	default:
		return map[string]any{"intent": intent, "error": intent.Guidance}
	}
}

// courseFromQuery scans the known course names for one mentioned in the
// query text.
func (c *Client) courseFromQuery(ctx context.Context, query string) *Course {
	groups := c.Courses(ctx)
	if groups == nil {
		return nil
	}
	lower := strings.ToLower(query)
	for _, pool := range []map[string]Course{groups.Student, groups.Instructor} {
		for _, id := range slices.Sorted(maps.Keys(pool)) {
			course := pool[id]
			if course.Name != "" && strings.Contains(lower, strings.ToLower(course.Name)) {
				return &course
			}
			if course.FullName != "" && strings.Contains(lower, strings.ToLower(course.FullName)) {
				return &course
			}
		}
	}
	return nil
}

// assignmentFromQuery scans a course's assignment names for one mentioned in
// the query text.
func (c *Client) assignmentFromQuery(ctx context.Context, courseID, query string) *Assignment {
	lower := strings.ToLower(query)
	for _, assignment := range c.Assignments(ctx, courseID) {
		if assignment.Name != "" && strings.Contains(lower, strings.ToLower(assignment.Name)) {
			match := assignment
			return &match
		}
	}
	return nil
}
