package notebook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/nbtag/internal/kernel"
	"github.com/starford/nbtag/internal/nbformat"
)

// recordingHost records every executed source and the working directory it
// ran in. A source equal to failOn fails with an *kernel.ExecutionError.
type recordingHost struct {
	ran    []string
	dirs   []string
	failOn string
}

func (h *recordingHost) Execute(_ context.Context, src kernel.Source, ns kernel.Namespace) error {
	dir, _ := os.Getwd()
	h.ran = append(h.ran, src.Text)
	h.dirs = append(h.dirs, dir)
	if h.failOn != "" && src.Text == h.failOn {
		return &kernel.ExecutionError{Cell: src.Name, Line: 1, Column: 1, Msg: "boom"}
	}
	ns[src.Name] = src.Text
	return nil
}

type recordingRenderer struct {
	rendered []string
}

func (r *recordingRenderer) Render(src string) error {
	r.rendered = append(r.rendered, src)
	return nil
}

func md(src string) nbformat.Cell   { return nbformat.Cell{Type: nbformat.Markdown, Source: src} }
func code(src string) nbformat.Cell { return nbformat.Cell{Type: nbformat.Code, Source: src} }

func doc(cells ...nbformat.Cell) *nbformat.Document {
	return &nbformat.Document{Cells: cells}
}

// scenarioDoc is the document [md "# A", code "x=1", md "## B", code "y=2"].
func scenarioDoc() *nbformat.Document {
	return doc(md("# A"), code("x=1"), md("## B"), code("y=2"))
}

// staticReader returns the document held by *d on every read.
func staticReader(d **nbformat.Document) Reader {
	return ReaderFunc(func(string) (*nbformat.Document, error) { return *d, nil })
}

func newTestNotebook(t *testing.T, d *nbformat.Document, opts ...Option) (*Notebook, *recordingHost) {
	t.Helper()
	host := &recordingHost{}
	path := filepath.Join(t.TempDir(), "test.ipynb")
	opts = append([]Option{WithHost(host), WithReader(staticReader(&d))}, opts...)
	nb, err := New(context.Background(), path, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return nb, host
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
