package gradescope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"github.com/coursebridge/coursebridge/internal/cache"
	"github.com/coursebridge/coursebridge/internal/config"
	"github.com/coursebridge/coursebridge/internal/metrics"
)

// Cache categories owned by this client.
const (
	catCourses     = "gradescope_courses"
	catAssignments = "gradescope_assignments"
	catSubmissions = "gradescope_submissions"
)

// authState is the explicit session state machine. The only transitions are
// Unauthenticated -> Authenticated (handshake success) and Authenticated ->
// Unauthenticated (a request answered with 401).
type authState int

const (
	stateUnauthenticated authState = iota
	stateAuthenticated
)

var (
	errAuthFailed   = errors.New("gradescope: authentication failed")
	errUnauthorized = errors.New("gradescope: session rejected upstream")
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is the scraping client for the grading site. The upstream has no
// API: authentication and data retrieval both run through scripted HTML
// interaction. Public operations never return an error; every network or
// parse failure is logged and collapses into an absent result. At most one
// handshake runs per operation, and a failed call is never retried; the
// next call re-authenticates instead.
type Client struct {
	baseURL  string
	email    string
	password string
	client   httpDoer
	logger   *slog.Logger
	store    *cache.Store
	rec      *metrics.Recorder

	mu        sync.Mutex
	state     authState
	csrfToken string
	jar       *cookieJar

	// handshakes collapses concurrent login attempts into one POST.
	handshakes singleflight.Group
}

// Option adjusts a Client at construction time.
type Option func(*Client)

// WithHTTPClient injects the transport, used by tests. The production
// transport must not follow redirects: login success is detected by a raw
// 302 and the redirect is followed manually.
func WithHTTPClient(doer httpDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.client = doer
		}
	}
}

// WithMetrics attaches an upstream/cache metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Client) { c.rec = rec }
}

// New builds a grading-site client. Callers are expected to construct it
// only when both credentials are present (config.GradescopeConfig.Enabled).
func New(cfg config.GradescopeConfig, store *cache.Store, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		email:    cfg.Email,
		password: cfg.Password,
		client: &http.Client{
			Timeout: 20 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.With(slog.String("client", "gradescope")),
		store:  store,
		jar:    newCookieJar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ensureAuthenticated runs the login handshake unless the session is already
// live. Concurrent callers share a single in-flight handshake.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	authenticated := c.state == stateAuthenticated
	c.mu.Unlock()
	if authenticated {
		return nil
	}

	_, err, _ := c.handshakes.Do("login", func() (any, error) {
		c.mu.Lock()
		if c.state == stateAuthenticated {
			c.mu.Unlock()
			return nil, nil
		}
		c.jar.Clear()
		c.csrfToken = ""
		c.mu.Unlock()
		// The handshake outcome is shared by every concurrent waiter, so it
		// must not die with the initiating caller's context.
		return nil, c.handshake(context.WithoutCancel(ctx))
	})
	return err
}

// handshake performs the three-step scripted login:
//  1. GET the site root, capture cookies, extract the hidden
//     authenticity_token from the login form.
//  2. POST credentials with redirects disabled; success is strictly a 302.
//     A 200 is a failure even if the body looks fine: it is the login form
//     re-rendered with an error banner.
//  3. Follow the redirect target, capture session cookies, scrape the
//     csrf-token meta tag (absence tolerated).
func (c *Client) handshake(ctx context.Context) error {
	doc, _, err := c.fetch(ctx, c.baseURL+"/", http.StatusOK)
	if err != nil {
		return fmt.Errorf("%w: login page: %v", errAuthFailed, err)
	}
	token, ok := parseLoginToken(doc)
	if !ok {
		return fmt.Errorf("%w: authenticity token not found", errAuthFailed)
	}

	form := url.Values{
		"utf8":                 {"✓"},
		"authenticity_token":   {token},
		"session[email]":       {c.email},
		"session[password]":    {c.password},
		"session[remember_me]": {"0"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: build login request: %v", errAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.baseURL+"/")
	c.attachSession(req)

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("%w: login post: %v", errAuthFailed, err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return fmt.Errorf("%w: login answered %d, want 302", errAuthFailed, resp.StatusCode)
	}

	c.mu.Lock()
	c.jar.Ingest(resp.Header)
	c.mu.Unlock()

	target := c.resolveRedirect(resp.Header.Get("Location"))
	doc, _, err = c.fetch(ctx, target, http.StatusOK)
	if err != nil {
		return fmt.Errorf("%w: follow redirect: %v", errAuthFailed, err)
	}

	c.mu.Lock()
	if csrf, ok := parseCSRFToken(doc); ok {
		c.csrfToken = csrf
	} else {
		c.logger.Debug("csrf-token meta tag absent; continuing without it")
	}
	c.state = stateAuthenticated
	c.mu.Unlock()

	c.logger.Info("grading site session established")
	return nil
}

// Courses returns the account's courses grouped by role, or nil on failure.
// The whole grouping is one cache entry regardless of which role headings
// matched. Callers get their own copy of the grouping maps.
func (c *Client) Courses(ctx context.Context) *CourseGroups {
	if v, ok := c.cacheGet(catCourses, ""); ok {
		groups := v.(CourseGroups).clone()
		return &groups
	}

	doc, err := c.fetchAuthenticated(ctx, c.baseURL+"/account")
	if err != nil {
		c.logOpError("courses", err)
		return nil
	}

	groups, ok := parseAccountCourses(doc)
	if !ok {
		c.logger.Error("account page had no recognizable course sections")
		return nil
	}

	c.store.Set(catCourses, "", groups)
	snapshot := groups.clone()
	return &snapshot
}

// CourseByName finds a course by case-insensitive substring match, checking
// the student group before the instructor group. First match wins; a miss is
// an expected outcome and is not logged as an error.
func (c *Client) CourseByName(ctx context.Context, namePart string) *Course {
	groups := c.Courses(ctx)
	if groups == nil {
		return nil
	}
	if course := matchCourse(groups.Student, namePart); course != nil {
		return course
	}
	return matchCourse(groups.Instructor, namePart)
}

// matchCourse scans in course-id order so repeated identical queries always
// resolve to the same course.
func matchCourse(courses map[string]Course, namePart string) *Course {
	needle := strings.ToLower(namePart)
	for _, id := range slices.Sorted(maps.Keys(courses)) {
		course := courses[id]
		if strings.Contains(strings.ToLower(course.Name), needle) ||
			strings.Contains(strings.ToLower(course.FullName), needle) {
			return &course
		}
	}
	return nil
}

// Assignments returns a course's assignments, or nil on failure. The richer
// instructor-view data blob is tried first; when it yields nothing the
// student-facing table is parsed instead. Both paths produce the same
// Assignment shape.
func (c *Client) Assignments(ctx context.Context, courseID string) []Assignment {
	if v, ok := c.cacheGet(catAssignments, courseID); ok {
		return slices.Clone(v.([]Assignment))
	}

	doc, err := c.fetchAuthenticated(ctx, c.baseURL+"/courses/"+url.PathEscape(courseID))
	if err != nil {
		c.logOpError("assignments", err, slog.String("course_id", courseID))
		return nil
	}

	assignments, ok := parseInstructorAssignments(doc)
	if !ok {
		assignments, ok = parseStudentAssignments(doc)
	}
	if !ok {
		c.logger.Error("no assignments parsed from course page", slog.String("course_id", courseID))
		return nil
	}

	c.store.Set(catAssignments, courseID, assignments)
	return slices.Clone(assignments)
}

// AssignmentByName finds an assignment by case-insensitive substring match.
// First match wins.
func (c *Client) AssignmentByName(ctx context.Context, courseID, namePart string) *Assignment {
	assignments := c.Assignments(ctx, courseID)
	needle := strings.ToLower(namePart)
	for _, assignment := range assignments {
		if strings.Contains(strings.ToLower(assignment.Name), needle) {
			match := assignment
			return &match
		}
	}
	return nil
}

// Submissions returns the instructor grade roster for an assignment, or nil
// on failure.
func (c *Client) Submissions(ctx context.Context, courseID, assignmentID string) []Submission {
	subKey := courseID + "_" + assignmentID
	if v, ok := c.cacheGet(catSubmissions, subKey); ok {
		return slices.Clone(v.([]Submission))
	}

	target := fmt.Sprintf("%s/courses/%s/assignments/%s/review_grades",
		c.baseURL, url.PathEscape(courseID), url.PathEscape(assignmentID))
	doc, err := c.fetchAuthenticated(ctx, target)
	if err != nil {
		c.logOpError("submissions", err,
			slog.String("course_id", courseID), slog.String("assignment_id", assignmentID))
		return nil
	}

	submissions, ok := parseSubmissions(doc)
	if !ok {
		c.logger.Error("no submissions parsed from roster page",
			slog.String("course_id", courseID), slog.String("assignment_id", assignmentID))
		return nil
	}

	c.store.Set(catSubmissions, subKey, submissions)
	return slices.Clone(submissions)
}

// StudentSubmission returns one student's roster row, matched by email
// (case-insensitive). A missing student is an expected outcome.
func (c *Client) StudentSubmission(ctx context.Context, courseID, assignmentID, email string) *Submission {
	submissions := c.Submissions(ctx, courseID, assignmentID)
	for _, submission := range submissions {
		if strings.EqualFold(submission.StudentEmail, email) {
			match := submission
			return &match
		}
	}
	return nil
}

// fetchAuthenticated authenticates if needed, then GETs the target and
// parses its HTML. A 401 flips the session back to Unauthenticated and fails
// this call; the next call will re-run the handshake.
func (c *Client) fetchAuthenticated(ctx context.Context, target string) (*html.Node, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	doc, status, err := c.fetch(ctx, target, http.StatusOK)
	if status == http.StatusUnauthorized {
		c.mu.Lock()
		c.state = stateUnauthenticated
		c.mu.Unlock()
		c.logger.Warn("session rejected upstream; will re-authenticate on next call")
		return nil, errUnauthorized
	}
	return doc, err
}

// fetch GETs target with the session attached and parses the body as HTML
// when the status matches wantStatus.
func (c *Client) fetch(ctx context.Context, target string, wantStatus int) (*html.Node, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("gradescope: build request: %w", err)
	}
	c.attachSession(req)

	resp, err := c.do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("gradescope: request %s: %w", target, err)
	}
	defer resp.Body.Close()

	c.mu.Lock()
	c.jar.Ingest(resp.Header)
	c.mu.Unlock()

	if resp.StatusCode != wantStatus {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, fmt.Errorf("gradescope: status %d from %s", resp.StatusCode, target)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("gradescope: parse html: %w", err)
	}
	return doc, resp.StatusCode, nil
}

// do executes one round trip with a metrics observation.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.rec.ObserveUpstream("gradescope", 0, time.Since(start))
		return nil, err
	}
	c.rec.ObserveUpstream("gradescope", resp.StatusCode, time.Since(start))
	return resp, nil
}

// attachSession adds the jar cookies and, when known, the CSRF header.
func (c *Client) attachSession(req *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cookies := c.jar.Serialize(); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
	if c.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", c.csrfToken)
	}
}

func (c *Client) resolveRedirect(location string) string {
	if location == "" {
		return c.baseURL + "/account"
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	return c.baseURL + "/" + strings.TrimLeft(location, "/")
}

// cacheGet wraps the store lookup with a metrics observation.
func (c *Client) cacheGet(category, subKey string) (any, bool) {
	v, ok := c.store.Get(category, subKey)
	if ok {
		c.rec.ObserveCacheLookup(category, metrics.CacheLookupHit)
	} else {
		c.rec.ObserveCacheLookup(category, metrics.CacheLookupMiss)
	}
	return v, ok
}

func (c *Client) logOpError(what string, err error, attrs ...any) {
	args := append([]any{slog.Any("error", err)}, attrs...)
	c.logger.Error("failed to fetch "+what, args...)
}
