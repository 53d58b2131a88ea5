package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/nbtag/internal/apperr"
	"github.com/starford/nbtag/internal/kernel"
	"github.com/starford/nbtag/internal/session"
	"github.com/starford/nbtag/internal/sse"
)

// SessionHandler holds the live session route handlers.
type SessionHandler struct {
	sessions *session.Manager
	events   Events
}

// NewSessionHandler creates a SessionHandler. events may be nil.
func NewSessionHandler(sessions *session.Manager, events Events) *SessionHandler {
	return &SessionHandler{sessions: sessions, events: events}
}

// decodePath reads a SessionRequest body and returns its path, writing a
// 400 response when it is missing.
func decodePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return "", false
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return "", false
	}
	return req.Path, true
}

func queryPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'path' is required"))
		return "", false
	}
	return path, true
}

// List handles GET /api/sessions.
//
//	@Summary		List open sessions
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	SessionsResponse
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *SessionHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: h.sessions.Sessions()})
}

// Open handles POST /api/sessions/open.
//
//	@Summary		Open a notebook session and run its init blocks
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SessionRequest	true	"Notebook path"
//	@Success		200		{object}	session.Info
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/open [post]
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}
	info, err := h.sessions.Open(r.Context(), path)
	if err != nil {
		writeError(w, "open session", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Run handles POST /api/sessions/run.
//
//	@Summary		Run the blocks of a notebook selected by tag
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RunRequest	true	"Run selection"
//	@Success		200		{object}	RunResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	RunResponse
//	@Security		BearerAuth
//	@Router			/sessions/run [post]
func (h *SessionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}

	res, err := h.sessions.Run(r.Context(), req.Path, req.Request)
	if err != nil && (errors.Is(err, apperr.ErrInvalidInput) || errors.Is(err, apperr.ErrNotFound)) {
		writeError(w, "run", err, slog.String("path", req.Path))
		return
	}
	if res.Path == "" {
		// The init blocks failed while opening the session.
		res.Path, res.Mode, res.Tag = req.Path, req.Mode, req.Tag
	}
	h.publish(res, err)

	resp := RunResponse{
		Path:       res.Path,
		Mode:       res.Mode,
		Tag:        res.Tag,
		Output:     res.Output,
		DurationMS: res.Duration.Milliseconds(),
	}
	var execErr *kernel.ExecutionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.As(err, &execErr):
		resp.Error = execErr.Msg
		resp.Cell = execErr.Cell
		resp.Line = execErr.Line
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		writeError(w, "run", err, slog.String("path", req.Path))
	}
}

func (h *SessionHandler) publish(res session.Result, err error) {
	if h.events == nil {
		return
	}
	ev := sse.RunEvent{
		Path:       res.Path,
		Mode:       string(res.Mode),
		Tag:        res.Tag,
		DurationMS: res.Duration.Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	h.events.PublishRunEvent(ev)
}

// Restart handles POST /api/sessions/restart.
//
//	@Summary		Clear the namespace of an open session
//	@Tags			sessions
//	@Accept			json
//	@Param			body	body	SessionRequest	true	"Notebook path"
//	@Success		204		"Namespace cleared"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/restart [post]
func (h *SessionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Restart(path); err != nil {
		writeError(w, "restart session", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reload handles POST /api/sessions/reload.
//
//	@Summary		Re-read the document of an open session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SessionRequest	true	"Notebook path"
//	@Success		200		{object}	session.Info
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/reload [post]
func (h *SessionHandler) Reload(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}
	info, err := h.sessions.Reload(path)
	if err != nil {
		writeError(w, "reload session", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Save handles POST /api/sessions/save.
//
//	@Summary		Snapshot the namespace of an open session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SessionRequest	true	"Notebook path"
//	@Success		200		{object}	NamespaceResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/save [post]
func (h *SessionHandler) Save(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}
	st, err := h.sessions.Save(path)
	if err != nil {
		writeError(w, "save session", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, NamespaceResponse{
		Path:      st.Path,
		Namespace: st.Namespace,
		Skipped:   nonNil(st.Skipped),
	})
}

// Restore handles POST /api/sessions/restore.
//
//	@Summary		Load the saved snapshot of a notebook into its session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SessionRequest	true	"Notebook path"
//	@Success		200		{object}	session.Info
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/restore [post]
func (h *SessionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}
	info, err := h.sessions.Restore(path)
	if err != nil {
		writeError(w, "restore session", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Namespace handles GET /api/sessions/namespace.
//
//	@Summary		Export the namespace of an open session
//	@Tags			sessions
//	@Produce		json
//	@Param			path	query		string	true	"Notebook path"
//	@Success		200		{object}	NamespaceResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/namespace [get]
func (h *SessionHandler) Namespace(w http.ResponseWriter, r *http.Request) {
	path, ok := queryPath(w, r)
	if !ok {
		return
	}
	ns, skipped, err := h.sessions.Namespace(path)
	if err != nil {
		writeError(w, "export namespace", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, NamespaceResponse{Path: path, Namespace: ns, Skipped: nonNil(skipped)})
}

// Close handles DELETE /api/sessions.
//
//	@Summary		Close a session, running its teardown blocks
//	@Tags			sessions
//	@Param			path	query	string	true	"Notebook path"
//	@Success		204		"Session closed"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [delete]
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	path, ok := queryPath(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Close(r.Context(), path); err != nil {
		writeError(w, "close session", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
