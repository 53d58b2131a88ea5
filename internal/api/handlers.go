package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nbtag/internal/checksum"
	"github.com/starford/nbtag/internal/nbservice"
)

// maxNotebookBytes bounds request bodies carrying notebook content.
const maxNotebookBytes = 10 << 20

// Handler holds the notebook, tag and search route handlers.
type Handler struct {
	svc *nbservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *nbservice.Service) *Handler {
	return &Handler{svc: svc}
}

// notebookPath extracts the notebook path from the URL (everything after
// /api/notebooks/). Supports encoded slashes from OpenAPI clients
// (e.g. flows%2Fetl.ipynb).
func notebookPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListNotebooks handles GET /api/notebooks.
//
//	@Summary		List notebooks with optional pagination and tag filter
//	@Tags			notebooks
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			tag		query		string	false	"Only notebooks with a block carrying this tag"
//	@Success		200		{object}	NotebookListResponse
//	@Security		BearerAuth
//	@Router			/notebooks [get]
func (h *Handler) ListNotebooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListNotebooks(r.Context(), limit, offset, q.Get("tag"))
	if err != nil {
		writeError(w, "list notebooks", err)
		return
	}
	writeJSON(w, http.StatusOK, NotebookListResponse{Notebooks: items, Total: total})
}

// GetNotebook handles GET /api/notebooks/*.
//
//	@Summary		Get a notebook with its tagged blocks
//	@Tags			notebooks
//	@Produce		json
//	@Param			path	path		string	true	"Notebook path"
//	@Success		200		{object}	NotebookDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/{path} [get]
func (h *Handler) GetNotebook(w http.ResponseWriter, r *http.Request) {
	path := notebookPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	nb, err := h.svc.GetNotebook(r.Context(), path)
	if err != nil {
		writeError(w, "get notebook", err, slog.String("path", path))
		return
	}
	w.Header().Set("ETag", checksum.ETag(nb.Checksum))
	writeJSON(w, http.StatusOK, nb)
}

// CreateNotebook handles POST /api/notebooks.
//
//	@Summary		Create a new notebook
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNotebookRequest	true	"Notebook to create"
//	@Success		201		{object}	NotebookDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks [post]
func (h *Handler) CreateNotebook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxNotebookBytes)
	var req CreateNotebookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and content are required"))
		return
	}
	nb, err := h.svc.CreateNotebook(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		writeError(w, "create notebook", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusCreated, nb)
}

// UpdateNotebook handles PUT /api/notebooks/*.
//
//	@Summary		Update a notebook with optimistic concurrency
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			path		path	string					true	"Notebook path"
//	@Param			If-Match	header	string					false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body	UpdateNotebookRequest	true	"Updated content"
//	@Success		200		{object}	NotebookDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/{path} [put]
func (h *Handler) UpdateNotebook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxNotebookBytes)
	path := notebookPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	var req UpdateNotebookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	nb, err := h.svc.UpdateNotebook(r.Context(), path, []byte(req.Content), r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, "update notebook", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

// DeleteNotebook handles DELETE /api/notebooks/*.
//
//	@Summary		Delete a notebook
//	@Tags			notebooks
//	@Param			path	path	string	true	"Notebook path"
//	@Success		204		"Notebook deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/{path} [delete]
func (h *Handler) DeleteNotebook(w http.ResponseWriter, r *http.Request) {
	path := notebookPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteNotebook(r.Context(), path); err != nil {
		writeError(w, "delete notebook", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveNotebook handles POST /api/move.
//
//	@Summary		Rename a notebook
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MoveNotebookRequest	true	"Source and destination paths"
//	@Success		200		{object}	NotebookDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/move [post]
func (h *Handler) MoveNotebook(w http.ResponseWriter, r *http.Request) {
	var req MoveNotebookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.From == "" || req.To == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("from and to are required"))
		return
	}
	nb, err := h.svc.MoveNotebook(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, "move notebook", err, slog.String("from", req.From), slog.String("to", req.To))
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

// Tags handles GET /api/tags.
//
//	@Summary		List workspace tags with their block counts
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagsResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Tags(r.Context())
	if err != nil {
		writeError(w, "list tags", err)
		return
	}
	writeJSON(w, http.StatusOK, TagsResponse{Tags: tags})
}

// FindTag handles GET /api/tags/{tag}.
//
//	@Summary		Locate the blocks carrying a tag
//	@Tags			tags
//	@Produce		json
//	@Param			tag	path		string	true	"Tag"
//	@Success		200	{object}	TagRefsResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags/{tag} [get]
func (h *Handler) FindTag(w http.ResponseWriter, r *http.Request) {
	tag, err := url.PathUnescape(chi.URLParam(r, "tag"))
	if err != nil || tag == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("tag is required"))
		return
	}
	refs, err := h.svc.FindTag(r.Context(), tag)
	if err != nil {
		writeError(w, "find tag", err, slog.String("tag", tag))
		return
	}
	writeJSON(w, http.StatusOK, TagRefsResponse{Tag: tag, Blocks: refs})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notebooks
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
