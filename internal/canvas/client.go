package canvas

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coursebridge/coursebridge/internal/cache"
	"github.com/coursebridge/coursebridge/internal/config"
	"github.com/coursebridge/coursebridge/internal/metrics"
)

// Cache categories owned by this client.
const (
	catCourses     = "canvas_courses"
	catModules     = "canvas_modules"
	catModuleItems = "canvas_module_items"
	catFileURLs    = "canvas_file_urls"
	catAssignments = "canvas_assignments"
)

// maxFileContentBytes caps module-item file downloads so a single large
// attachment cannot blow up a tool response.
const maxFileContentBytes = 5 << 20

var errNoAPIKey = errors.New("canvas: api key not configured")

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is the authenticated REST client for the LMS. Every request carries
// the static bearer credential; there is no session handshake and no retry on
// 401. Public operations never return an error: failures are logged and
// collapse into an absent result so the tool layer stays uniform.
type Client struct {
	baseURL string
	apiKey  string
	client  httpDoer
	logger  *slog.Logger
	store   *cache.Store
	rec     *metrics.Recorder
}

// Option adjusts a Client at construction time.
type Option func(*Client)

// WithHTTPClient injects the transport, used by tests.
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

// New builds an LMS client around the shared cache store. An empty API key is
// tolerated here; operations report the missing configuration instead.
func New(cfg config.CanvasConfig, store *cache.Store, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With(slog.String("client", "canvas")),
		store:   store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Courses returns the current user's courses as a name → id mapping, or nil
// when the fetch fails. Callers always get their own copy; the cached
// snapshot is never handed out.
func (c *Client) Courses(ctx context.Context) map[string]int64 {
	if v, ok := c.cacheGet(catCourses, ""); ok {
		return maps.Clone(v.(map[string]int64))
	}

	query := url.Values{"page": {"1"}, "per_page": {"100"}}
	var records []courseRecord
	if err := c.getJSON(ctx, "/api/v1/courses", query, &records); err != nil {
		c.logFetchError("courses", err)
		return nil
	}

	out := make(map[string]int64, len(records))
	for _, record := range records {
		if record.ID == 0 || record.Name == "" {
			continue
		}
		out[record.Name] = record.ID
	}
	if len(out) == 0 {
		c.logger.Warn("no courses in upstream response")
		return nil
	}

	c.store.Set(catCourses, "", out)
	return maps.Clone(out)
}

// Modules returns the module list for a course, or nil on failure.
func (c *Client) Modules(ctx context.Context, courseID string) []Module {
	if v, ok := c.cacheGet(catModules, courseID); ok {
		return slices.Clone(v.([]Module))
	}

	var modules []Module
	path := fmt.Sprintf("/api/v1/courses/%s/modules", url.PathEscape(courseID))
	if err := c.getJSON(ctx, path, nil, &modules); err != nil {
		c.logFetchError("modules", err, slog.String("course_id", courseID))
		return nil
	}
	if len(modules) == 0 {
		c.logger.Warn("no modules for course", slog.String("course_id", courseID))
		return nil
	}

	c.store.Set(catModules, courseID, modules)
	return slices.Clone(modules)
}

// ModuleItems returns the items of one module, enriching File-type items
// with a direct download URL, metadata, and size-capped content. Enrichment
// failures are tolerated per item. Returns nil on failure.
func (c *Client) ModuleItems(ctx context.Context, courseID, moduleID string) []ModuleItem {
	subKey := courseID + "_" + moduleID
	if v, ok := c.cacheGet(catModuleItems, subKey); ok {
		return slices.Clone(v.([]ModuleItem))
	}

	var items []ModuleItem
	path := fmt.Sprintf("/api/v1/courses/%s/modules/%s/items",
		url.PathEscape(courseID), url.PathEscape(moduleID))
	if err := c.getJSON(ctx, path, url.Values{"per_page": {"100"}}, &items); err != nil {
		c.logFetchError("module items", err,
			slog.String("course_id", courseID), slog.String("module_id", moduleID))
		return nil
	}
	if len(items) == 0 {
		c.logger.Warn("no items in module",
			slog.String("course_id", courseID), slog.String("module_id", moduleID))
		return nil
	}

	for i := range items {
		if items[i].Type != "File" || items[i].ContentID == 0 {
			continue
		}
		if err := c.enrichFileItem(ctx, courseID, &items[i]); err != nil {
			c.logger.Warn("file item enrichment failed",
				slog.Int64("file_id", items[i].ContentID), slog.Any("error", err))
		}
	}

	c.store.Set(catModuleItems, subKey, items)
	return slices.Clone(items)
}

// FileURL resolves the direct download URL for a stored file. The empty
// string signals failure.
func (c *Client) FileURL(ctx context.Context, courseID, fileID string) string {
	fileURL, _, err := c.fileInfo(ctx, courseID, fileID)
	if err != nil {
		c.logFetchError("file url", err,
			slog.String("course_id", courseID), slog.String("file_id", fileID))
		return ""
	}
	return fileURL
}

// CourseAssignments returns a course's assignments, optionally filtered by
// the upstream bucket enum. The bucket is passed through unvalidated; an
// invalid value is the upstream's error to report. Returns nil on failure.
func (c *Client) CourseAssignments(ctx context.Context, courseID, bucket string) []Assignment {
	subKey := courseID
	if bucket != "" {
		subKey += "_" + bucket
	}
	if v, ok := c.cacheGet(catAssignments, subKey); ok {
		return slices.Clone(v.([]Assignment))
	}

	query := url.Values{
		"order_by":  {"due_at"},
		"per_page":  {"100"},
		"include[]": {"submission", "all_dates"},
	}
	if bucket != "" {
		query.Set("bucket", bucket)
	}

	var assignments []Assignment
	path := fmt.Sprintf("/api/v1/courses/%s/assignments", url.PathEscape(courseID))
	if err := c.getJSON(ctx, path, query, &assignments); err != nil {
		c.logFetchError("assignments", err, slog.String("course_id", courseID))
		return nil
	}

	c.store.Set(catAssignments, subKey, assignments)
	return slices.Clone(assignments)
}

// AssignmentsByCourseName resolves a course by case-insensitive substring
// match and returns its assignments. When several courses match, the first
// in course-name order wins, so repeated queries resolve identically.
// Returns nil when no course matches or the fetch fails.
func (c *Client) AssignmentsByCourseName(ctx context.Context, namePart, bucket string) []Assignment {
	courses := c.Courses(ctx)
	if courses == nil {
		return nil
	}

	needle := strings.ToLower(namePart)
	for _, name := range slices.Sorted(maps.Keys(courses)) {
		if strings.Contains(strings.ToLower(name), needle) {
			return c.CourseAssignments(ctx, strconv.FormatInt(courses[name], 10), bucket)
		}
	}

	c.logger.Info("course not found by name", slog.String("name", namePart))
	return nil
}

// enrichFileItem attaches the direct URL, metadata, and capped content to a
// File-type module item.
func (c *Client) enrichFileItem(ctx context.Context, courseID string, item *ModuleItem) error {
	fileID := strconv.FormatInt(item.ContentID, 10)
	fileURL, meta, err := c.fileInfo(ctx, courseID, fileID)
	if err != nil {
		return err
	}
	item.FileURL = fileURL
	item.FileMeta = meta
	return c.downloadFileContent(ctx, fileURL, item)
}

// cachedFile is the artifact stored under the file_urls category.
type cachedFile struct {
	URL  string
	Meta *FileMeta
}

// fileInfo fetches (and caches) a file's direct URL plus display metadata.
func (c *Client) fileInfo(ctx context.Context, courseID, fileID string) (string, *FileMeta, error) {
	subKey := courseID + "_" + fileID
	if v, ok := c.cacheGet(catFileURLs, subKey); ok {
		info := v.(cachedFile)
		return info.URL, info.Meta, nil
	}

	var record fileRecord
	path := fmt.Sprintf("/api/v1/courses/%s/files/%s",
		url.PathEscape(courseID), url.PathEscape(fileID))
	if err := c.getJSON(ctx, path, nil, &record); err != nil {
		return "", nil, err
	}

	fileURL := record.URL
	if fileURL == "" {
		fileURL = record.DownloadURL
	}
	if fileURL == "" {
		return "", nil, fmt.Errorf("canvas: no url in file metadata for file %s", fileID)
	}
	meta := &FileMeta{
		DisplayName: record.DisplayName,
		Filename:    record.Filename,
		Size:        record.Size,
		ContentType: record.ContentType,
	}

	c.store.Set(catFileURLs, subKey, cachedFile{URL: fileURL, Meta: meta})
	return fileURL, meta, nil
}

// downloadFileContent pulls the file body up to the size cap. The direct URL
// is pre-signed upstream, so no bearer credential is attached.
func (c *Client) downloadFileContent(ctx context.Context, fileURL string, item *ModuleItem) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("canvas: build file request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.rec.ObserveUpstream("canvas", 0, time.Since(start))
		return fmt.Errorf("canvas: file download: %w", err)
	}
	defer resp.Body.Close()
	c.rec.ObserveUpstream("canvas", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("canvas: file download status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFileContentBytes+1))
	if err != nil {
		return fmt.Errorf("canvas: read file body: %w", err)
	}
	if len(body) > maxFileContentBytes {
		body = body[:maxFileContentBytes]
		item.FileContentTruncated = true
	}

	contentType := resp.Header.Get("Content-Type")
	item.FileContentType = contentType
	item.FileContentSize = len(body)
	if isTextual(contentType) {
		item.FileContentText = string(body)
	}
	item.FileContentBase64 = base64.StdEncoding.EncodeToString(body)
	return nil
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	return strings.HasPrefix(ct, "application/json") || strings.HasPrefix(ct, "application/xml")
}

// getJSON performs one authenticated GET and decodes the JSON body into out.
// The credential gate lives here so no operation can touch the network with
// an unset key.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if c.apiKey == "" {
		c.logger.Info("canvas api key not set; skipping request", slog.String("path", path))
		return errNoAPIKey
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("canvas: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.rec.ObserveUpstream("canvas", 0, time.Since(start))
		return fmt.Errorf("canvas: request %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.rec.ObserveUpstream("canvas", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("canvas: status %d from %s: %s", resp.StatusCode, path, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("canvas: decode %s: %w", path, err)
	}
	return nil
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

func (c *Client) logFetchError(what string, err error, attrs ...any) {
	if errors.Is(err, errNoAPIKey) {
		return
	}
	args := append([]any{slog.Any("error", err)}, attrs...)
	c.logger.Error("failed to fetch "+what, args...)
}
