// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/nbtag/internal/api"
	"github.com/starford/nbtag/internal/apperr"
	"github.com/starford/nbtag/internal/index"
	"github.com/starford/nbtag/internal/logging"
	"github.com/starford/nbtag/internal/mcpserver"
	"github.com/starford/nbtag/internal/nbservice"
	"github.com/starford/nbtag/internal/session"
	"github.com/starford/nbtag/internal/sse"
	"github.com/starford/nbtag/internal/storage"
)

// runtime holds the components shared by the HTTP and MCP entry points.
type runtime struct {
	logger   *slog.Logger
	store    *storage.FS
	db       *index.DB
	svc      *nbservice.Service
	sessions *session.Manager

	closers []io.Closer
}

// setup builds the logger, workspace storage, index and session manager.
// console receives the console log; the MCP entry point passes os.Stderr so
// that stdout stays reserved for the protocol.
func setup(cfg *Config, console io.Writer) (*runtime, error) {
	logger, logCloser := logging.New(logging.Options{
		Level:   cfg.App.LogLevel,
		File:    cfg.App.LogFile,
		Console: console,
	})
	slog.SetDefault(logger)

	rt := &runtime{logger: logger, closers: []io.Closer{logCloser}}

	logger.Info("Configuration loaded",
		slog.String("workspace_path", cfg.Workspace.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Workspace.Path, 0o755); err != nil {
		rt.close()
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Workspace.Path)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	rt.store = store

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init index: %w", err)
	}
	rt.db = db
	// Closed before the log file.
	rt.closers = append(rt.closers, db)

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	rt.svc = nbservice.NewService(store, db)
	rt.sessions = session.NewManager(store, db, session.Options{
		TTL:          cfg.Notebook.SessionTTL,
		KeepMarkdown: cfg.Notebook.KeepMarkdown,
		Blacklist:    cfg.Notebook.Blacklist,
		Logger:       logger,
	})
	return rt, nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].Close()
	}
}

// shutdown runs the teardown blocks of every open session and releases the
// index and log file.
func (rt *runtime) shutdown() {
	if rt.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := rt.sessions.Shutdown(ctx); err != nil {
			rt.logger.Warn("session shutdown failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	rt.close()
}

// followChange reloads the open session of a notebook edited on disk and
// closes the session of a deleted one. Notebooks without a session are left
// alone.
func (rt *runtime) followChange(kind, path string) {
	var err error
	switch kind {
	case index.EventUpdated:
		_, err = rt.sessions.Reload(path)
	case index.EventDeleted:
		err = rt.sessions.Close(context.Background(), path)
	default:
		return
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		rt.logger.Warn("session follow-up failed",
			slog.String("path", path),
			slog.String("event", kind),
			slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	rt, err := setup(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.shutdown()
	logger := rt.logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	apiRouter := api.NewRouter(rt.svc, rt.sessions, broker, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher: publish changes and keep open sessions in step.
	onChange := func(kind, path string) {
		broker.PublishNotebookEvent(kind, path)
		rt.followChange(kind, path)
	}
	g.Go(func() error {
		if err := index.Watch(gCtx, rt.db, rt.store, cfg.Workspace.Path, logger, onChange); err != nil {
			logger.Warn("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(_ context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	rt, err := setup(app.config, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	rt.logger.Info("MCP server starting", slog.String("version", app.version))
	if err := mcpserver.New(rt.svc, rt.sessions, app.version).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
