package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/nbtag/internal/nbformat"
	"github.com/starford/nbtag/internal/nbservice"
)

const maxUploadBytes = 50 << 20 // 50 MB

// UploadHandler accepts notebook files as multipart uploads.
type UploadHandler struct {
	svc *nbservice.Service
}

// NewUploadHandler creates an upload handler writing through svc.
func NewUploadHandler(svc *nbservice.Service) *UploadHandler {
	return &UploadHandler{svc: svc}
}

// uploadPath validates that name is a plain notebook file name (no path
// separators, no traversal) and joins it under dir.
func uploadPath(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	if !nbformat.Supported(cleaned) {
		return "", fmt.Errorf("unsupported notebook type: %s", name)
	}
	if dir == "" {
		return cleaned, nil
	}
	dir = path.Clean(filepath.ToSlash(dir))
	if strings.HasPrefix(dir, "/") || dir == ".." || strings.HasPrefix(dir, "../") {
		return "", fmt.Errorf("invalid directory: %s", dir)
	}
	return path.Join(dir, cleaned), nil
}

// Upload handles POST /api/upload (multipart/form-data, field "file",
// optional field "dir").
//
//	@Summary		Upload a notebook file
//	@Tags			notebooks
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Notebook (.ipynb or .md)"
//	@Param			dir		formData	string	false	"Workspace directory"
//	@Success		201		{object}	UploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/upload [post]
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	dst, err := uploadPath(r.FormValue("dir"), header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	nb, err := h.svc.CreateNotebook(r.Context(), dst, data)
	if err != nil {
		writeError(w, "upload notebook", err, slog.String("path", dst))
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		Path:   dst,
		Size:   int64(len(data)),
		Blocks: nb.Blocks,
	})
}
