package canvas

import "time"

// Module is one entry of a course's module list.
type Module struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Position   int    `json:"position,omitempty"`
	State      string `json:"state,omitempty"`
	ItemsCount int    `json:"items_count,omitempty"`
}

// FileMeta is the subset of Canvas file metadata surfaced to callers.
type FileMeta struct {
	DisplayName string `json:"display_name,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// ModuleItem is one entry of a module's item list. File-type items are
// enriched with a direct download URL, metadata, and size-capped content.
type ModuleItem struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	ContentID   int64  `json:"content_id,omitempty"`
	HTMLURL     string `json:"html_url,omitempty"`
	ExternalURL string `json:"external_url,omitempty"`

	FileURL              string    `json:"file_url,omitempty"`
	FileMeta             *FileMeta `json:"file_meta,omitempty"`
	FileContentType      string    `json:"file_content_type,omitempty"`
	FileContentSize      int       `json:"file_content_size,omitempty"`
	FileContentTruncated bool      `json:"file_content_truncated,omitempty"`
	FileContentText      string    `json:"file_content_text,omitempty"`
	FileContentBase64    string    `json:"file_content_base64,omitempty"`
}

// Assignment is the trimmed assignment record returned by the assignment
// operations: identity, name, description, due instant, and whether a
// submission exists.
type Assignment struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	DueAt        *time.Time `json:"due_at"`
	HasSubmitted bool       `json:"has_submitted_submissions"`
}

// courseRecord is the raw upstream course shape; only id and name matter.
type courseRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// fileRecord is the raw upstream file-metadata shape.
type fileRecord struct {
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
	DisplayName string `json:"display_name"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content-type"`
}
