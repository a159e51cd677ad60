package canvas

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coursebridge/coursebridge/internal/cache"
	"github.com/coursebridge/coursebridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHTTPDoer implements httpDoer for testing.
type mockHTTPDoer struct {
	callCount int
	requests  []*http.Request
	respond   func(*http.Request) *http.Response
}

func (m *mockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.callCount++
	m.requests = append(m.requests, req)
	if m.respond == nil {
		return jsonResponse(http.StatusOK, `[]`), nil
	}
	return m.respond(req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(t *testing.T, apiKey string, doer httpDoer) *Client {
	t.Helper()
	store := cache.New(time.Minute)
	logger := slog.New(slog.DiscardHandler)
	return New(config.CanvasConfig{BaseURL: "https://lms.test", APIKey: apiKey}, store, logger,
		WithHTTPClient(doer))
}

func TestCoursesWithoutAPIKeySkipsNetwork(t *testing.T) {
	doer := &mockHTTPDoer{}
	client := newTestClient(t, "", doer)

	require.Nil(t, client.Courses(context.Background()))
	assert.Zero(t, doer.callCount, "no network I/O without a credential")
}

func TestCoursesMapsNamesToIDs(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(*http.Request) *http.Response {
		return jsonResponse(http.StatusOK, `[
			{"id": 101, "name": "CS 101: Intro"},
			{"id": 201, "name": "Biology 201"},
			{"id": 0, "name": "deleted"},
			{"id": 301}
		]`)
	}}
	client := newTestClient(t, "key", doer)

	courses := client.Courses(context.Background())
	require.NotNil(t, courses)
	assert.Equal(t, map[string]int64{"CS 101: Intro": 101, "Biology 201": 201}, courses)

	req := doer.requests[0]
	assert.Equal(t, "Bearer key", req.Header.Get("Authorization"))
	assert.Equal(t, "/api/v1/courses", req.URL.Path)
}

func TestCoursesCachedWithinTTL(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(*http.Request) *http.Response {
		return jsonResponse(http.StatusOK, `[{"id": 1, "name": "CS 101"}]`)
	}}
	client := newTestClient(t, "key", doer)

	first := client.Courses(context.Background())
	second := client.Courses(context.Background())

	require.NotNil(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, doer.callCount, "second call must be a cache hit")
}

func TestCoursesUpstreamFailureReturnsNil(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(*http.Request) *http.Response {
		return jsonResponse(http.StatusUnauthorized, `{"errors":[{"message":"Invalid access token."}]}`)
	}}
	client := newTestClient(t, "stale-key", doer)

	assert.Nil(t, client.Courses(context.Background()))
}

func TestCourseAssignmentsBucketPassthrough(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(*http.Request) *http.Response {
		return jsonResponse(http.StatusOK, `[
			{"id": 9, "name": "HW1", "description": "<p>intro</p>", "due_at": "2026-09-01T06:59:00Z", "has_submitted_submissions": true}
		]`)
	}}
	client := newTestClient(t, "key", doer)

	assignments := client.CourseAssignments(context.Background(), "101", "upcoming")
	require.Len(t, assignments, 1)
	assert.Equal(t, int64(9), assignments[0].ID)
	assert.True(t, assignments[0].HasSubmitted)
	require.NotNil(t, assignments[0].DueAt)
	assert.Equal(t, 2026, assignments[0].DueAt.Year())

	query := doer.requests[0].URL.Query()
	assert.Equal(t, "upcoming", query.Get("bucket"))
	assert.Equal(t, "due_at", query.Get("order_by"))
	assert.ElementsMatch(t, []string{"submission", "all_dates"}, query["include[]"])
}

func TestCourseAssignmentsBucketKeysCacheIndependently(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(req *http.Request) *http.Response {
		if req.URL.Query().Get("bucket") == "past" {
			return jsonResponse(http.StatusOK, `[{"id": 1, "name": "old"}]`)
		}
		return jsonResponse(http.StatusOK, `[{"id": 2, "name": "new"}]`)
	}}
	client := newTestClient(t, "key", doer)
	ctx := context.Background()

	past := client.CourseAssignments(ctx, "101", "past")
	upcoming := client.CourseAssignments(ctx, "101", "upcoming")

	require.Len(t, past, 1)
	require.Len(t, upcoming, 1)
	assert.NotEqual(t, past[0].ID, upcoming[0].ID)
	assert.Equal(t, 2, doer.callCount)
}

func TestAssignmentsByCourseNameMatchesSubstringCaseInsensitive(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(req *http.Request) *http.Response {
		if req.URL.Path == "/api/v1/courses" {
			return jsonResponse(http.StatusOK, `[
				{"id": 1, "name": "CS 101: Intro"},
				{"id": 2, "name": "Biology 201"}
			]`)
		}
		require.Equal(t, "/api/v1/courses/1/assignments", req.URL.Path)
		return jsonResponse(http.StatusOK, `[{"id": 7, "name": "HW1"}]`)
	}}
	client := newTestClient(t, "key", doer)

	assignments := client.AssignmentsByCourseName(context.Background(), "intro", "")
	require.Len(t, assignments, 1)
	assert.Equal(t, int64(7), assignments[0].ID)
}

func TestAssignmentsByCourseNameDeterministicAcrossMatches(t *testing.T) {
	// Both courses match "intro"; name order must pick "Intro to Art" (id 1)
	// on every resolution, not whichever the map yields first.
	for range 10 {
		doer := &mockHTTPDoer{respond: func(req *http.Request) *http.Response {
			if req.URL.Path == "/api/v1/courses" {
				return jsonResponse(http.StatusOK, `[
					{"id": 2, "name": "Intro to Databases"},
					{"id": 1, "name": "Intro to Art"}
				]`)
			}
			require.Equal(t, "/api/v1/courses/1/assignments", req.URL.Path)
			return jsonResponse(http.StatusOK, `[{"id": 7, "name": "HW1"}]`)
		}}
		client := newTestClient(t, "key", doer)

		assignments := client.AssignmentsByCourseName(context.Background(), "intro", "")
		require.Len(t, assignments, 1)
	}
}

func TestCoursesReturnsIndependentSnapshot(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(*http.Request) *http.Response {
		return jsonResponse(http.StatusOK, `[{"id": 1, "name": "CS 101"}]`)
	}}
	client := newTestClient(t, "key", doer)
	ctx := context.Background()

	first := client.Courses(ctx)
	first["CS 101"] = 999
	first["Injected"] = 1000

	second := client.Courses(ctx)
	assert.Equal(t, map[string]int64{"CS 101": 1}, second, "cached snapshot must not absorb caller mutation")
	assert.Equal(t, 1, doer.callCount)
}

func TestCourseAssignmentsReturnsIndependentSnapshot(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(*http.Request) *http.Response {
		return jsonResponse(http.StatusOK, `[{"id": 7, "name": "HW1"}]`)
	}}
	client := newTestClient(t, "key", doer)
	ctx := context.Background()

	first := client.CourseAssignments(ctx, "101", "")
	require.Len(t, first, 1)
	first[0].Name = "mutated"

	second := client.CourseAssignments(ctx, "101", "")
	require.Len(t, second, 1)
	assert.Equal(t, "HW1", second[0].Name)
	assert.Equal(t, 1, doer.callCount)
}

func TestAssignmentsByCourseNameNoMatch(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(*http.Request) *http.Response {
		return jsonResponse(http.StatusOK, `[{"id": 1, "name": "CS 101"}]`)
	}}
	client := newTestClient(t, "key", doer)

	assert.Nil(t, client.AssignmentsByCourseName(context.Background(), "philosophy", ""))
	assert.Equal(t, 1, doer.callCount, "only the course list is fetched")
}

func TestFileURLCached(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(*http.Request) *http.Response {
		return jsonResponse(http.StatusOK, `{"url": "https://files.test/doc.pdf", "display_name": "doc.pdf", "size": 1234}`)
	}}
	client := newTestClient(t, "key", doer)
	ctx := context.Background()

	require.Equal(t, "https://files.test/doc.pdf", client.FileURL(ctx, "101", "55"))
	require.Equal(t, "https://files.test/doc.pdf", client.FileURL(ctx, "101", "55"))
	assert.Equal(t, 1, doer.callCount)
}

func TestModuleItemsEnrichesFileItems(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(req *http.Request) *http.Response {
		switch {
		case strings.HasSuffix(req.URL.Path, "/items"):
			return jsonResponse(http.StatusOK, `[
				{"id": 1, "title": "Syllabus", "type": "File", "content_id": 55},
				{"id": 2, "title": "Week 1", "type": "Page"}
			]`)
		case strings.HasSuffix(req.URL.Path, "/files/55"):
			return jsonResponse(http.StatusOK, `{"url": "https://files.test/syllabus.txt", "display_name": "syllabus.txt", "size": 11, "content-type": "text/plain"}`)
		case req.URL.Host == "files.test":
			resp := &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"text/plain"}},
				Body:       io.NopCloser(strings.NewReader("hello world")),
			}
			return resp
		default:
			return jsonResponse(http.StatusNotFound, `{}`)
		}
	}}
	client := newTestClient(t, "key", doer)

	items := client.ModuleItems(context.Background(), "101", "7")
	require.Len(t, items, 2)

	file := items[0]
	assert.Equal(t, "https://files.test/syllabus.txt", file.FileURL)
	require.NotNil(t, file.FileMeta)
	assert.Equal(t, "syllabus.txt", file.FileMeta.DisplayName)
	assert.Equal(t, "hello world", file.FileContentText)
	assert.NotEmpty(t, file.FileContentBase64)
	assert.False(t, file.FileContentTruncated)

	page := items[1]
	assert.Empty(t, page.FileURL)
}

func TestModuleItemsToleratesEnrichmentFailure(t *testing.T) {
	doer := &mockHTTPDoer{respond: func(req *http.Request) *http.Response {
		if strings.HasSuffix(req.URL.Path, "/items") {
			return jsonResponse(http.StatusOK, `[{"id": 1, "title": "Handout", "type": "File", "content_id": 99}]`)
		}
		return jsonResponse(http.StatusInternalServerError, `{}`)
	}}
	client := newTestClient(t, "key", doer)

	items := client.ModuleItems(context.Background(), "101", "7")
	require.Len(t, items, 1)
	assert.Empty(t, items[0].FileURL)
}

func TestModulesEmptyListIsAbsent(t *testing.T) {
	doer := &mockHTTPDoer{}
	client := newTestClient(t, "key", doer)

	assert.Nil(t, client.Modules(context.Background(), "101"))
}
