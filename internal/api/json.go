package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/nbtag/internal/apperr"
	"github.com/starford/nbtag/internal/kernel"
	"github.com/starford/nbtag/internal/notebook"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusOf maps service and notebook errors to an HTTP status. Zero means
// the error is internal.
func statusOf(err error) int {
	var execErr *kernel.ExecutionError
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, notebook.ErrTagNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput),
		errors.Is(err, notebook.ErrInvalidDirective),
		errors.Is(err, notebook.ErrDocumentFormat):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrAlreadyExists),
		errors.Is(err, notebook.ErrUnsupported):
		return http.StatusConflict
	case errors.As(err, &execErr):
		return http.StatusUnprocessableEntity
	}
	return 0
}

// writeError writes the response for err, logging internal errors with op.
func writeError(w http.ResponseWriter, op string, err error, attrs ...any) {
	status := statusOf(err)
	if status == 0 {
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}
