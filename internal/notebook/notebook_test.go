package notebook

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/nbtag/internal/kernel"
	"github.com/starford/nbtag/internal/nbformat"
	"go.starlark.net/starlark"
)

func TestNew_RunsInitHook(t *testing.T) {
	nb, host := newTestNotebook(t, doc(code("a"), code("# __init__\nsetup"), code("b")))
	if !equalStrings(host.ran, []string{"# __init__\nsetup"}) {
		t.Errorf("ran %q, want only the init block", host.ran)
	}
	if len(nb.Blocks()) != 3 {
		t.Errorf("blocks = %d", len(nb.Blocks()))
	}
}

func TestNew_InitFailurePropagates(t *testing.T) {
	d := doc(code("# __init__\nbad"))
	host := &recordingHost{failOn: "# __init__\nbad"}
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "x.ipynb"),
		WithHost(host), WithReader(staticReader(&d)))
	var execErr *kernel.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *kernel.ExecutionError", err)
	}
}

func TestNew_ReaderFailure(t *testing.T) {
	failing := ReaderFunc(func(string) (*nbformat.Document, error) {
		return nil, nbformat.ErrMalformed
	})
	_, err := New(context.Background(), "broken.ipynb", WithHost(&recordingHost{}), WithReader(failing))
	if !errors.Is(err, ErrDocumentFormat) || !errors.Is(err, nbformat.ErrMalformed) {
		t.Fatalf("err = %v", err)
	}
}

func TestClose_RunsDelHookOnce(t *testing.T) {
	nb, host := newTestNotebook(t, doc(code("a"), code("# __del__\nteardown")))
	ctx := context.Background()
	if err := nb.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := nb.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if !equalStrings(host.ran, []string{"# __del__\nteardown"}) {
		t.Errorf("ran %q", host.ran)
	}
}

func TestClose_WithoutHook(t *testing.T) {
	nb, host := newTestNotebook(t, scenarioDoc())
	if err := nb.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(host.ran) != 0 {
		t.Errorf("ran %q", host.ran)
	}
}

func TestRefresh_KeepsNamespace(t *testing.T) {
	d := doc(code("a"))
	host := &recordingHost{}
	nb, err := New(context.Background(), filepath.Join(t.TempDir(), "x.ipynb"),
		WithHost(host), WithReader(staticReader(&d)))
	if err != nil {
		t.Fatal(err)
	}
	if err := nb.RunAll(context.Background(), Blacklist{}); err != nil {
		t.Fatal(err)
	}

	d = doc(md("# New"), code("a"), code("b"))
	if err := nb.Refresh(); err != nil {
		t.Fatal(err)
	}
	if len(nb.Blocks()) != 2 || !nb.Blocks()[0].Tags.Has("New") {
		t.Errorf("blocks = %+v", nb.Blocks())
	}
	if _, ok := nb.Namespace()[kernel.CellName(0)]; !ok {
		t.Error("namespace reset by Refresh")
	}
}

func TestRefresh_FailureKeepsPreviousBlocks(t *testing.T) {
	d := scenarioDoc()
	nb, _ := newTestNotebook(t, d)
	want := nb.Blocks()

	nb.reader = ReaderFunc(func(string) (*nbformat.Document, error) {
		return nil, errors.New("disk gone")
	})
	if err := nb.Refresh(); !errors.Is(err, ErrDocumentFormat) {
		t.Fatalf("err = %v", err)
	}
	if len(nb.Blocks()) != len(want) {
		t.Errorf("blocks = %d, want %d", len(nb.Blocks()), len(want))
	}

	nb.reader = ReaderFunc(func(string) (*nbformat.Document, error) {
		return doc(code("##block \nx")), nil
	})
	if err := nb.Refresh(); !errors.Is(err, ErrInvalidDirective) {
		t.Fatalf("err = %v", err)
	}
	if len(nb.Blocks()) != len(want) {
		t.Errorf("blocks = %d, want %d", len(nb.Blocks()), len(want))
	}
}

func TestRestart(t *testing.T) {
	nb, _ := newTestNotebook(t, scenarioDoc(), WithNamespace(kernel.Namespace{"seed": 1}))
	if err := nb.RunAll(context.Background(), Blacklist{}); err != nil {
		t.Fatal(err)
	}
	if err := nb.Restart(kernel.Namespace{"fresh": true}); err != nil {
		t.Fatal(err)
	}
	ns := nb.Namespace()
	if len(ns) != 1 || ns["fresh"] != true {
		t.Errorf("namespace = %v", ns)
	}
	if err := nb.Restart(nil); err != nil || len(nb.Namespace()) != 0 {
		t.Errorf("Restart(nil): err = %v, namespace = %v", err, nb.Namespace())
	}
}

func TestWithNamespace_CopiesCallerMap(t *testing.T) {
	seed := kernel.Namespace{"seed": 1}
	nb, _ := newTestNotebook(t, scenarioDoc(), WithNamespace(seed))
	if err := nb.RunAll(context.Background(), Blacklist{}); err != nil {
		t.Fatal(err)
	}
	if len(seed) != 1 {
		t.Errorf("caller namespace mutated: %v", seed)
	}
	if nb.Attached() {
		t.Error("Attached = true")
	}
}

func TestAttachedNamespace(t *testing.T) {
	shared := kernel.Namespace{}
	nb, _ := newTestNotebook(t, scenarioDoc(), WithAttachedNamespace(shared))
	if err := nb.RunAll(context.Background(), Blacklist{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := shared[kernel.CellName(1)]; !ok {
		t.Errorf("shared namespace not updated: %v", shared)
	}

	err := nb.Restart(nil)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Restart err = %v, want ErrUnsupported", err)
	}
	if len(shared) == 0 {
		t.Error("attached namespace cleared")
	}
}

func TestTags(t *testing.T) {
	nb, _ := newTestNotebook(t, doc(code("b"), md("# A"), code("# t\nx"), code("y")))
	want := []string{"A", "# A", "t"}
	if got := nb.Tags(); !equalStrings(got, want) {
		t.Errorf("Tags = %q, want %q", got, want)
	}
}

const literateDoc = "# Demo\n\n" +
	"```starlark __init__\nbase = 10\n```\n\n" +
	"## Compute\n\n" +
	"```starlark\n# math\ntotal = base + 5\n```\n\n" +
	"```python\n##block report\nline = \"total=%d\" % total\n```\n\n" +
	"```py\nprint(line)\n```\n\n" +
	"```star\n##lastblock\nafter = True\n```\n"

func TestNotebook_StarlarkEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.md")
	if err := os.WriteFile(path, []byte(literateDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	ctx := context.Background()

	nb, err := New(ctx, path, WithHost(kernel.NewStarlark(&out)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := nb.Namespace()["base"]; !ok {
		t.Fatal("init block did not run")
	}

	if err := nb.RunTag(ctx, "math", true); err != nil {
		t.Fatal(err)
	}
	if err := nb.RunTag(ctx, "report", true); err != nil {
		t.Fatal(err)
	}
	if out.String() != "total=15\n" {
		t.Errorf("stdout = %q", out.String())
	}
	if _, ok := nb.Namespace()["after"]; ok {
		t.Error("block after ##lastblock ran with the report scope")
	}

	if err := nb.RunAfter(ctx, "report", true); err != nil {
		t.Fatal(err)
	}
	if v, _ := nb.Namespace()["after"].(starlark.Bool); v != starlark.True {
		t.Errorf("after = %v", nb.Namespace()["after"])
	}
}

func TestNotebook_StarlarkErrorCarriesOrigin(t *testing.T) {
	d := doc(code("x = 1"), code("y = 1\nz = x // 0"))
	nb, err := New(context.Background(), filepath.Join(t.TempDir(), "x.ipynb"),
		WithHost(kernel.NewStarlark(&bytes.Buffer{})), WithReader(staticReader(&d)))
	if err != nil {
		t.Fatal(err)
	}

	err = nb.RunAll(context.Background(), Blacklist{})
	var execErr *kernel.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v", err)
	}
	if execErr.Cell != "<cell 1>" || execErr.Line != 2 {
		t.Errorf("origin = %s:%d", execErr.Cell, execErr.Line)
	}
	if !strings.Contains(execErr.Msg, "division by zero") {
		t.Errorf("Msg = %q", execErr.Msg)
	}
	if _, ok := nb.Namespace()["y"]; !ok {
		t.Error("partial bindings lost")
	}
}
