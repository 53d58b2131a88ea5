package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nbtag/internal/nbservice"
	"github.com/starford/nbtag/internal/session"
	"github.com/starford/nbtag/internal/sse"
)

// Events receives run notifications. *sse.Broker implements it.
type Events interface {
	PublishRunEvent(ev sse.RunEvent)
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events, if non-nil, is told about every finished run.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *nbservice.Service, sessions *session.Manager, events Events, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	sh := NewSessionHandler(sessions, events)
	uh := NewUploadHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notebooks CRUD.
	r.Get("/notebooks", h.ListNotebooks)
	r.Post("/notebooks", h.CreateNotebook)
	r.Get("/notebooks/*", h.GetNotebook)
	r.Put("/notebooks/*", h.UpdateNotebook)
	r.Delete("/notebooks/*", h.DeleteNotebook)
	r.Post("/move", h.MoveNotebook)

	// Notebook file upload (multipart).
	r.Post("/upload", uh.Upload)

	// Tags and search.
	r.Get("/tags", h.Tags)
	r.Get("/tags/{tag}", h.FindTag)
	r.Get("/search", h.Search)

	// Live sessions.
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", sh.List)
		r.Delete("/", sh.Close)
		r.Post("/open", sh.Open)
		r.Post("/run", sh.Run)
		r.Post("/restart", sh.Restart)
		r.Post("/reload", sh.Reload)
		r.Post("/save", sh.Save)
		r.Post("/restore", sh.Restore)
		r.Get("/namespace", sh.Namespace)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
