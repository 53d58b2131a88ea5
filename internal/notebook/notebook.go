// Package notebook loads documents of Markdown and code cells, tags every
// block from the heading structure and inline directives, and runs selected
// blocks against a persistent namespace.
//
// A Notebook is not safe for concurrent use. Runs change the process working
// directory, so callers running several notebooks concurrently must
// serialize the runs themselves.
package notebook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/nbtag/internal/kernel"
	"github.com/starford/nbtag/internal/nbformat"
)

// Reader decodes the document at path.
type Reader interface {
	Read(path string) (*nbformat.Document, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(path string) (*nbformat.Document, error)

// Read calls f(path).
func (f ReaderFunc) Read(path string) (*nbformat.Document, error) { return f(path) }

// Renderer displays retained Markdown blocks when they are run.
type Renderer interface {
	Render(src string) error
}

// Notebook is a loaded document together with the namespace its blocks run
// against.
type Notebook struct {
	path     string
	runDir   string
	ns       kernel.Namespace
	attached bool

	keepMarkdown bool
	blacklist    []string

	host     kernel.Host
	reader   Reader
	renderer Renderer
	logger   *slog.Logger

	blocks []Block
	closed bool
}

// Option configures a Notebook.
type Option func(*Notebook)

// WithNamespace seeds the private namespace with a copy of ns.
func WithNamespace(ns kernel.Namespace) Option {
	return func(nb *Notebook) {
		nb.ns = ns.Clone()
		nb.attached = false
	}
}

// WithAttachedNamespace runs blocks directly against ns, which stays owned
// by the caller. Restart is not allowed on an attached notebook.
func WithAttachedNamespace(ns kernel.Namespace) Option {
	return func(nb *Notebook) {
		if ns == nil {
			ns = kernel.Namespace{}
		}
		nb.ns = ns
		nb.attached = true
	}
}

// WithRunDir sets the working directory for runs. The default is the
// directory containing the document.
func WithRunDir(dir string) Option {
	return func(nb *Notebook) { nb.runDir = dir }
}

// WithMarkdown retains Markdown cells as runnable blocks; running them
// requires a Renderer.
func WithMarkdown(keep bool) Option {
	return func(nb *Notebook) { nb.keepMarkdown = keep }
}

// WithRenderer sets the display target for Markdown blocks.
func WithRenderer(r Renderer) Option {
	return func(nb *Notebook) { nb.renderer = r }
}

// WithHost sets the execution host. The default is a Starlark host printing
// to os.Stdout.
func WithHost(h kernel.Host) Option {
	return func(nb *Notebook) { nb.host = h }
}

// WithReader sets the document reader. The default is nbformat.ReadFile.
func WithReader(r Reader) Option {
	return func(nb *Notebook) { nb.reader = r }
}

// WithBlacklist adds tags that RunAll skips by default, next to SkipTag.
func WithBlacklist(tags ...string) Option {
	return func(nb *Notebook) { nb.blacklist = append(nb.blacklist, tags...) }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(nb *Notebook) { nb.logger = l }
}

func newNotebook(path string, opts ...Option) (*Notebook, error) {
	nb := &Notebook{
		path:      path,
		ns:        kernel.Namespace{},
		blacklist: []string{SkipTag},
	}
	for _, opt := range opts {
		opt(nb)
	}

	if nb.runDir == "" {
		nb.runDir = filepath.Dir(path)
	}
	abs, err := filepath.Abs(nb.runDir)
	if err != nil {
		return nil, fmt.Errorf("notebook: resolve run dir: %w", err)
	}
	nb.runDir = abs

	if nb.host == nil {
		nb.host = kernel.NewStarlark(os.Stdout)
	}
	if nb.reader == nil {
		nb.reader = ReaderFunc(nbformat.ReadFile)
	}
	if nb.logger == nil {
		nb.logger = slog.Default()
	}
	return nb, nil
}

// New loads the document at path and runs the blocks tagged InitTag, if any.
func New(ctx context.Context, path string, opts ...Option) (*Notebook, error) {
	nb, err := newNotebook(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := nb.Refresh(); err != nil {
		return nil, err
	}
	if err := nb.RunTag(ctx, InitTag, false); err != nil {
		return nil, err
	}
	return nb, nil
}

// Refresh reloads the document from disk and re-tags every block. The
// namespace is kept. On failure the previously loaded blocks stay in place.
func (nb *Notebook) Refresh() error {
	doc, err := nb.reader.Read(nb.path)
	if err != nil {
		return &DocumentFormatError{Path: nb.path, Err: err}
	}
	blocks, err := Load(doc, LoadOptions{KeepMarkdown: nb.keepMarkdown})
	if err != nil {
		return err
	}
	nb.blocks = blocks
	nb.logger.Debug("notebook: loaded",
		slog.String("path", nb.path),
		slog.Int("blocks", len(blocks)))
	return nil
}

// Restart replaces the namespace with a copy of ns (empty when nil).
func (nb *Notebook) Restart(ns kernel.Namespace) error {
	if nb.attached {
		return &UnsupportedOperationError{Op: "restart", Reason: "namespace is attached to the caller"}
	}
	nb.ns = ns.Clone()
	return nil
}

// Close runs the blocks tagged DelTag, if any. Later calls do nothing.
func (nb *Notebook) Close(ctx context.Context) error {
	if nb.closed {
		return nil
	}
	nb.closed = true
	return nb.RunTag(ctx, DelTag, false)
}

// Path returns the document path.
func (nb *Notebook) Path() string { return nb.path }

// RunDir returns the absolute working directory used for runs.
func (nb *Notebook) RunDir() string { return nb.runDir }

// Namespace returns the live namespace.
func (nb *Notebook) Namespace() kernel.Namespace { return nb.ns }

// Attached reports whether the namespace is owned by the caller.
func (nb *Notebook) Attached() bool { return nb.attached }

// Blocks returns the loaded blocks in document order.
func (nb *Notebook) Blocks() []Block {
	out := make([]Block, len(nb.blocks))
	copy(out, nb.blocks)
	return out
}

// Tags returns every distinct tag of the loaded blocks in order of first
// appearance, without the NoTag sentinel.
func (nb *Notebook) Tags() []string {
	var b tagBuilder
	for _, block := range nb.blocks {
		if block.Tags.Untagged() {
			continue
		}
		b.add(block.Tags.tags...)
	}
	return b.tags
}
