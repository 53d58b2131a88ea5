package notebook

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/starford/nbtag/internal/kernel"
	"go.starlark.net/starlark"
)

func TestState_RoundTrip(t *testing.T) {
	d := doc(code("n = 41\nname = \"nb\"\nitems = [1, 2.5]\ndef f():\n  return n"))
	path := filepath.Join(t.TempDir(), "state.ipynb")
	host := kernel.NewStarlark(&bytes.Buffer{})
	nb, err := New(context.Background(), path, WithHost(host), WithReader(staticReader(&d)))
	if err != nil {
		t.Fatal(err)
	}
	if err := nb.RunAll(context.Background(), Blacklist{}); err != nil {
		t.Fatal(err)
	}

	st, err := nb.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !equalStrings(st.Skipped, []string{"f"}) {
		t.Errorf("Skipped = %q", st.Skipped)
	}

	var buf bytes.Buffer
	if err := st.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeState(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Path != path {
		t.Errorf("Path = %q", decoded.Path)
	}

	restored, err := Restore(decoded, WithHost(host), WithReader(staticReader(&d)))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(restored.Blocks()) != 0 {
		t.Errorf("restored notebook has %d blocks before Refresh", len(restored.Blocks()))
	}
	if got := restored.Namespace()["n"]; got != int64(41) {
		t.Errorf("n = %#v, want int64(41)", got)
	}

	d = doc(code("m = n + 1\nfirst = items[1]"))
	if err := restored.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := restored.RunAll(context.Background(), Blacklist{}); err != nil {
		t.Fatal(err)
	}
	if m, _ := restored.Namespace()["m"].(starlark.Int).Int64(); m != 42 {
		t.Errorf("m = %v", restored.Namespace()["m"])
	}
	if f, _ := restored.Namespace()["first"].(starlark.Float); f != 2.5 {
		t.Errorf("first = %v", restored.Namespace()["first"])
	}
}

func TestRestore_DoesNotRunInit(t *testing.T) {
	d := doc(code("# __init__\nsetup"))
	host := &recordingHost{}
	nb, err := Restore(State{Path: "x.ipynb", Namespace: map[string]any{"a": "b"}},
		WithHost(host), WithReader(staticReader(&d)))
	if err != nil {
		t.Fatal(err)
	}
	if len(host.ran) != 0 {
		t.Errorf("ran %q", host.ran)
	}
	if nb.Namespace()["a"] != "b" || nb.Attached() {
		t.Errorf("namespace = %v, attached = %v", nb.Namespace(), nb.Attached())
	}
}
