package api

import (
	"github.com/starford/nbtag/internal/index"
	"github.com/starford/nbtag/internal/models"
	"github.com/starford/nbtag/internal/session"
)

// CreateNotebookRequest is the request body for creating a notebook.
type CreateNotebookRequest struct {
	Path    string `json:"path" example:"flows/etl.md" validate:"required"`
	Content string `json:"content" example:"# ETL\n\n```starlark load\nrows = []\n```" validate:"required"`
}

// UpdateNotebookRequest is the request body for updating a notebook.
type UpdateNotebookRequest struct {
	Content string `json:"content" validate:"required"`
}

// MoveNotebookRequest is the request body for renaming a notebook.
type MoveNotebookRequest struct {
	From string `json:"from" example:"flows/etl.md" validate:"required"`
	To   string `json:"to" example:"archive/etl.md" validate:"required"`
}

// NotebookDetail is the full notebook response type (aliased from the domain layer).
type NotebookDetail = models.Notebook

// NotebookListResponse wraps paginated notebook listings.
type NotebookListResponse struct {
	Notebooks []models.NotebookSummary `json:"notebooks" validate:"required"`
	Total     int                      `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult = index.SearchResult

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// TagsResponse lists the workspace tags.
type TagsResponse struct {
	Tags []models.TagCount `json:"tags" validate:"required"`
}

// TagRefsResponse lists the blocks carrying one tag.
type TagRefsResponse struct {
	Tag    string          `json:"tag" example:"load" validate:"required"`
	Blocks []models.TagRef `json:"blocks" validate:"required"`
}

// UploadResponse is returned after a successful notebook upload.
type UploadResponse struct {
	Path   string `json:"path" example:"flows/etl.ipynb" validate:"required"`
	Size   int64  `json:"size" example:"12345" validate:"required"`
	Blocks int    `json:"blocks" example:"7" validate:"required"`
}

// SessionRequest names the session an operation applies to.
type SessionRequest struct {
	Path string `json:"path" example:"flows/etl.md" validate:"required"`
}

// RunRequest is the request body of POST /api/sessions/run.
type RunRequest struct {
	Path string `json:"path" example:"flows/etl.md" validate:"required"`
	session.Request
}

// RunResponse is the outcome of a run. Error is set when the run stopped
// at a failing block; Cell and Line locate it.
type RunResponse struct {
	Path       string       `json:"path"`
	Mode       session.Mode `json:"mode"`
	Tag        string       `json:"tag,omitempty"`
	Output     string       `json:"output"`
	DurationMS int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
	Cell       string       `json:"cell,omitempty"`
	Line       int          `json:"line,omitempty"`
}

// SessionsResponse lists the open sessions.
type SessionsResponse struct {
	Sessions []string `json:"sessions" validate:"required"`
}

// NamespaceResponse is the exported namespace of a session.
type NamespaceResponse struct {
	Path      string         `json:"path"`
	Namespace map[string]any `json:"namespace"`
	// Skipped lists names whose values cannot be represented as JSON.
	Skipped []string `json:"skipped"`
}
