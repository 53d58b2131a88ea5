// Package session keeps workspace notebooks open between runs so that their
// namespaces persist, and serializes every run through one lock because runs
// change the process working directory.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/patrickmn/go-cache"

	"github.com/starford/nbtag/internal/apperr"
	"github.com/starford/nbtag/internal/kernel"
	"github.com/starford/nbtag/internal/markdown"
	"github.com/starford/nbtag/internal/notebook"
	"github.com/starford/nbtag/internal/storage"
)

// DefaultTTL is how long an idle session stays open.
const DefaultTTL = 30 * time.Minute

// Mode selects which blocks a run executes.
type Mode string

// Run modes.
const (
	ModeAll    Mode = "all"
	ModeTag    Mode = "tag"
	ModeBefore Mode = "before"
	ModeAfter  Mode = "after"
)

// Request describes one run.
type Request struct {
	Mode Mode   `json:"mode"`
	Tag  string `json:"tag,omitempty"`
	// Exclude adds tags to the blacklist of a ModeAll run.
	Exclude []string `json:"exclude,omitempty"`
	// NoBlacklist disables every exclusion of a ModeAll run.
	NoBlacklist bool `json:"no_blacklist,omitempty"`
	Strict      bool `json:"strict"`
}

// Validate checks the request. An empty mode means ModeAll.
func (r *Request) Validate() error {
	if r.Mode == "" {
		r.Mode = ModeAll
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Mode, validation.In(ModeAll, ModeTag, ModeBefore, ModeAfter)),
		validation.Field(&r.Tag, validation.When(r.Mode != ModeAll, validation.Required)),
	)
}

// Execute runs the blocks of nb selected by a validated req.
func Execute(ctx context.Context, nb *notebook.Notebook, req Request) error {
	switch req.Mode {
	case ModeTag:
		return nb.RunTag(ctx, req.Tag, req.Strict)
	case ModeBefore:
		return nb.RunBefore(ctx, req.Tag, req.Strict)
	case ModeAfter:
		return nb.RunAfter(ctx, req.Tag, req.Strict)
	default:
		bl := notebook.Exclude(req.Exclude...)
		if req.NoBlacklist {
			bl = notebook.NoBlacklist()
		}
		return nb.RunAll(ctx, bl)
	}
}

// Result is the outcome of a run.
type Result struct {
	Path     string        `json:"path"`
	Mode     Mode          `json:"mode"`
	Tag      string        `json:"tag,omitempty"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Info describes an open session.
type Info struct {
	Path   string   `json:"path"`
	Blocks int      `json:"blocks"`
	Tags   []string `json:"tags"`
	// Names lists the bound names of the namespace.
	Names []string `json:"names"`
}

// SnapshotStore persists serialized session state.
type SnapshotStore interface {
	SaveSnapshot(path string, state []byte) error
	LoadSnapshot(path string) ([]byte, time.Time, error)
}

// Options configures a Manager.
type Options struct {
	// TTL is the idle time after which a session is closed. Zero means
	// DefaultTTL.
	TTL          time.Duration
	KeepMarkdown bool
	Blacklist    []string
	Logger       *slog.Logger
	// NewHost builds the execution host of a session writing its output to
	// stdout. Nil means a Starlark host.
	NewHost func(stdout io.Writer) kernel.Host
}

// Manager owns the open sessions of a workspace.
type Manager struct {
	store     storage.Provider
	snapshots SnapshotStore
	opts      Options
	logger    *slog.Logger
	sessions  *cache.Cache

	// mu guards every notebook and serializes runs across sessions.
	mu sync.Mutex
}

type session struct {
	nb  *notebook.Notebook
	out *bytes.Buffer
}

// NewManager creates a session manager for the notebooks in store.
// snapshots may be nil, in which case Save and Restore fail.
func NewManager(store storage.Provider, snapshots SnapshotStore, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewHost == nil {
		opts.NewHost = func(w io.Writer) kernel.Host { return kernel.NewStarlark(w) }
	}
	cleanup := min(opts.TTL, time.Minute)

	m := &Manager{
		store:     store,
		snapshots: snapshots,
		opts:      opts,
		logger:    opts.Logger,
		sessions:  cache.New(opts.TTL, cleanup),
	}
	m.sessions.OnEvicted(m.evicted)
	return m
}

// evicted runs the teardown hook of a session leaving the cache. Close has
// already run the hook for explicitly closed sessions, so this is a no-op
// for them.
func (m *Manager) evicted(key string, v any) {
	s := v.(*session)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.nb.Close(context.Background()); err != nil {
		m.logger.Warn("session: teardown failed", slog.String("path", key), slog.String("error", err.Error()))
		return
	}
	m.logger.Debug("session: closed", slog.String("path", key))
}

func sessionKey(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// lookup returns an open session and extends its lifetime. Callers hold mu.
func (m *Manager) lookup(key string) (*session, error) {
	v, ok := m.sessions.Get(key)
	if !ok {
		return nil, fmt.Errorf("session: %s is not open: %w", key, apperr.ErrNotFound)
	}
	m.sessions.Set(key, v, cache.DefaultExpiration)
	return v.(*session), nil
}

func (m *Manager) notebookOptions(s *session) []notebook.Option {
	return []notebook.Option{
		notebook.WithHost(m.opts.NewHost(s.out)),
		notebook.WithMarkdown(m.opts.KeepMarkdown),
		notebook.WithRenderer(markdown.TextRenderer{W: s.out}),
		notebook.WithBlacklist(m.opts.Blacklist...),
		notebook.WithLogger(m.logger),
	}
}

func (m *Manager) resolve(key string) (string, error) {
	abs, err := m.store.Abs(key)
	if err != nil {
		return "", fmt.Errorf("session: %w: %v", apperr.ErrInvalidInput, err)
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("session: %s: %w", key, apperr.ErrNotFound)
		}
		return "", fmt.Errorf("session: stat %s: %w", key, err)
	}
	return abs, nil
}

// open returns the session of key, loading the notebook and running its
// init hook if it is not open yet. Callers hold mu.
func (m *Manager) open(ctx context.Context, key string) (*session, error) {
	if s, err := m.lookup(key); err == nil {
		return s, nil
	}
	abs, err := m.resolve(key)
	if err != nil {
		return nil, err
	}
	s := &session{out: &bytes.Buffer{}}
	nb, err := notebook.New(ctx, abs, m.notebookOptions(s)...)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", key, err)
	}
	s.nb = nb
	m.sessions.Set(key, s, cache.DefaultExpiration)
	m.logger.Debug("session: opened", slog.String("path", key))
	return s, nil
}

func info(key string, nb *notebook.Notebook) Info {
	names := make([]string, 0, len(nb.Namespace()))
	for name := range nb.Namespace() {
		names = append(names, name)
	}
	slices.Sort(names)
	tags := nb.Tags()
	if tags == nil {
		tags = []string{}
	}
	return Info{Path: key, Blocks: len(nb.Blocks()), Tags: tags, Names: names}
}

// Open opens the notebook at path (relative to the workspace) if needed and
// describes its session.
func (m *Manager) Open(ctx context.Context, path string) (Info, error) {
	key := sessionKey(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.open(ctx, key)
	if err != nil {
		return Info{}, err
	}
	return info(key, s.nb), nil
}

// Run executes the blocks selected by req in the session of path, opening
// it first if needed. The result carries the output written so far even
// when the run fails.
func (m *Manager) Run(ctx context.Context, path string, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, fmt.Errorf("session: %w: %v", apperr.ErrInvalidInput, err)
	}
	key := sessionKey(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.open(ctx, key)
	if err != nil {
		return Result{}, err
	}

	s.out.Reset()
	start := time.Now()
	err = Execute(ctx, s.nb, req)
	res := Result{
		Path:     key,
		Mode:     req.Mode,
		Tag:      req.Tag,
		Output:   s.out.String(),
		Duration: time.Since(start),
	}
	s.out.Reset()

	m.logger.Debug("session: run",
		slog.String("path", key),
		slog.String("mode", string(req.Mode)),
		slog.Duration("duration", res.Duration))
	return res, err
}

// Restart clears the namespace of an open session.
func (m *Manager) Restart(path string) error {
	key := sessionKey(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(key)
	if err != nil {
		return err
	}
	return s.nb.Restart(nil)
}

// Reload re-reads the document of an open session, keeping its namespace.
func (m *Manager) Reload(path string) (Info, error) {
	key := sessionKey(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(key)
	if err != nil {
		return Info{}, err
	}
	if err := s.nb.Refresh(); err != nil {
		return Info{}, err
	}
	return info(key, s.nb), nil
}

// Close runs the teardown hook of an open session and forgets it.
func (m *Manager) Close(ctx context.Context, path string) error {
	key := sessionKey(path)
	m.mu.Lock()
	s, err := m.lookup(key)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	err = s.nb.Close(ctx)
	m.mu.Unlock()

	// Eviction takes mu itself; the hook has already run.
	m.sessions.Delete(key)
	return err
}

// Namespace exports the namespace of an open session. Names whose values
// cannot be exported are returned in skipped.
func (m *Manager) Namespace(path string) (data map[string]any, skipped []string, err error) {
	key := sessionKey(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(key)
	if err != nil {
		return nil, nil, err
	}
	return kernel.Export(s.nb.Namespace())
}

// Save stores the namespace of an open session as a snapshot.
func (m *Manager) Save(path string) (notebook.State, error) {
	if m.snapshots == nil {
		return notebook.State{}, errors.New("session: no snapshot store configured")
	}
	key := sessionKey(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(key)
	if err != nil {
		return notebook.State{}, err
	}
	st, err := s.nb.State()
	if err != nil {
		return notebook.State{}, err
	}
	st.Path = key

	var buf bytes.Buffer
	if err := st.Encode(&buf); err != nil {
		return notebook.State{}, err
	}
	if err := m.snapshots.SaveSnapshot(key, buf.Bytes()); err != nil {
		return notebook.State{}, err
	}
	return st, nil
}

// Restore loads the saved snapshot of path into its session. An open
// session gets the saved namespace; otherwise the notebook is opened without
// running its init hook.
func (m *Manager) Restore(path string) (Info, error) {
	if m.snapshots == nil {
		return Info{}, errors.New("session: no snapshot store configured")
	}
	key := sessionKey(path)
	data, _, err := m.snapshots.LoadSnapshot(key)
	if err != nil {
		return Info{}, err
	}
	st, err := notebook.DecodeState(bytes.NewReader(data))
	if err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, err := m.lookup(key); err == nil {
		if err := s.nb.Restart(kernel.Import(st.Namespace)); err != nil {
			return Info{}, err
		}
		return info(key, s.nb), nil
	}

	abs, err := m.resolve(key)
	if err != nil {
		return Info{}, err
	}
	s := &session{out: &bytes.Buffer{}}
	st.Path = abs
	nb, err := notebook.Restore(st, m.notebookOptions(s)...)
	if err != nil {
		return Info{}, fmt.Errorf("session: restore %s: %w", key, err)
	}
	if err := nb.Refresh(); err != nil {
		return Info{}, fmt.Errorf("session: restore %s: %w", key, err)
	}
	s.nb = nb
	m.sessions.Set(key, s, cache.DefaultExpiration)
	return info(key, nb), nil
}

// Sessions returns the paths of the open sessions, sorted.
func (m *Manager) Sessions() []string {
	items := m.sessions.Items()
	out := make([]string, 0, len(items))
	for k := range items {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Shutdown closes every open session.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, key := range m.Sessions() {
		if err := m.Close(ctx, key); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
