package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempWorkspace(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempWorkspace(t)
	content := []byte("# Hello\n\n```starlark\nx = 1\n```\n")
	if err := s.Write("intro.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("intro.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempWorkspace(t)
	if err := s.Write("a/b/c.ipynb", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.ipynb")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("del.ipynb", []byte("{}"))
	if err := s.Delete("del.ipynb"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.ipynb"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMove(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("old.md", []byte("data"))
	if err := s.Move("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.md")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestList(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/b.ipynb", []byte("{}"))
	_ = s.Write("sub/c.markdown", []byte("c"))
	_ = s.Write("readme.txt", []byte("not a notebook"))
	_ = s.Write(".ipynb_checkpoints/b-checkpoint.ipynb", []byte("{}"))
	_ = s.Write("__pycache__/x.md", []byte("x"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := make(map[string]bool)
	for _, it := range items {
		got[it.Path] = true
		if it.Checksum == "" {
			t.Errorf("%s has no checksum", it.Path)
		}
	}
	if len(items) != 3 || !got["a.md"] || !got["sub/b.ipynb"] || !got["sub/c.markdown"] {
		t.Errorf("items = %v", items)
	}
}

func TestList_HonoursGitignore(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write(".gitignore", []byte("scratch/\n*.draft.md\n"))
	_ = s.Write("keep.md", []byte("k"))
	_ = s.Write("notes.draft.md", []byte("d"))
	_ = s.Write("scratch/tmp.ipynb", []byte("{}"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Path != "keep.md" {
		t.Errorf("items = %v", items)
	}
}

func TestAbs(t *testing.T) {
	s := tempWorkspace(t)
	abs, err := s.Abs("sub/x.ipynb")
	if err != nil {
		t.Fatal(err)
	}
	if abs != filepath.Join(s.Root(), "sub", "x.ipynb") {
		t.Errorf("Abs = %q", abs)
	}
	if _, err := s.Abs("../x.ipynb"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("err = %v, want ErrOutsideRoot", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempWorkspace(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.ipynb",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	// Verify that if we read during a write the old content is intact
	// (the rename is atomic on POSIX).
	s := tempWorkspace(t)
	original := []byte("original content")
	_ = s.Write("atomic.md", original)

	// Overwrite with new content.
	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, ".nbtag-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/nbtag-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "nbtag-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
