package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/nbtag/internal/apperr"
	"github.com/starford/nbtag/internal/kernel"
	"github.com/starford/nbtag/internal/notebook"
	"github.com/starford/nbtag/internal/testutil"
)

const demoDoc = "# Demo\n\n" +
	"```starlark __init__\nprint(\"init\")\nbase = 40\n```\n\n" +
	"## Compute\n\n" +
	"```starlark\n# math\ntotal = base + 2\nprint(\"total\", total)\n```\n\n" +
	"```starlark\n# __skip__\nprint(\"skipped\")\n```\n\n" +
	"```starlark\n# report\nprint(\"report\", total)\n```\n\n" +
	"```starlark __del__\nprint(\"bye\")\n```\n"

// recordingHost wraps a Starlark host and records the names of executed
// cells. Eviction runs on the cache janitor goroutine, hence the lock.
type recordingHost struct {
	inner kernel.Host
	mu    *sync.Mutex
	log   *[]string
}

func (h recordingHost) Execute(ctx context.Context, src kernel.Source, ns kernel.Namespace) error {
	h.mu.Lock()
	*h.log = append(*h.log, strings.SplitN(src.Text, "\n", 2)[0])
	h.mu.Unlock()
	return h.inner.Execute(ctx, src, ns)
}

type env struct {
	dir string
	mgr *Manager
	mu  sync.Mutex
	log []string
}

func (e *env) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	dir, store := testutil.TestWorkspace(t)
	if err := os.WriteFile(filepath.Join(dir, "demo.md"), []byte(demoDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	e := &env{dir: dir}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.NewHost = func(w io.Writer) kernel.Host {
		return recordingHost{inner: kernel.NewStarlark(w), mu: &e.mu, log: &e.log}
	}
	e.mgr = NewManager(store, testutil.TestDB(t), opts)
	t.Cleanup(func() { _ = e.mgr.Shutdown(context.Background()) })
	return e
}

func TestOpen_RunsInitOnce(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	info, err := e.mgr.Open(ctx, "demo.md")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info.Blocks != 5 {
		t.Errorf("blocks = %d", info.Blocks)
	}
	if _, err := e.mgr.Open(ctx, "./demo.md"); err != nil {
		t.Fatal(err)
	}
	if got := e.executed(); len(got) != 1 || got[0] != `print("init")` {
		t.Errorf("executed = %q", got)
	}
	if sessions := e.mgr.Sessions(); len(sessions) != 1 || sessions[0] != "demo.md" {
		t.Errorf("sessions = %v", sessions)
	}
}

func TestOpen_Missing(t *testing.T) {
	e := newEnv(t, Options{})
	if _, err := e.mgr.Open(context.Background(), "nope.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := e.mgr.Open(context.Background(), "../escape.md"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRun_Modes(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	res, err := e.mgr.Run(ctx, "demo.md", Request{Mode: ModeTag, Tag: "math", Strict: true})
	if err != nil {
		t.Fatalf("Run tag: %v", err)
	}
	if res.Output != "total 42\n" {
		t.Errorf("output = %q", res.Output)
	}

	res, err = e.mgr.Run(ctx, "demo.md", Request{Mode: ModeAfter, Tag: "math", Strict: true})
	if err != nil {
		t.Fatalf("Run after: %v", err)
	}
	if res.Output != "skipped\nreport 42\nbye\n" {
		t.Errorf("after output = %q", res.Output)
	}

	res, err = e.mgr.Run(ctx, "demo.md", Request{})
	if err != nil {
		t.Fatalf("Run all: %v", err)
	}
	if strings.Contains(res.Output, "skipped") || res.Mode != ModeAll {
		t.Errorf("run all = %+v", res)
	}

	res, err = e.mgr.Run(ctx, "demo.md", Request{Mode: ModeAll, NoBlacklist: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "skipped") {
		t.Errorf("NoBlacklist output = %q", res.Output)
	}

	res, err = e.mgr.Run(ctx, "demo.md", Request{Mode: ModeBefore, Tag: "Compute", Strict: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "init\n" {
		t.Errorf("before output = %q", res.Output)
	}
}

func TestRun_StrictMissingTag(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	_, err := e.mgr.Run(ctx, "demo.md", Request{Mode: ModeTag, Tag: "missing", Strict: true})
	if !errors.Is(err, notebook.ErrTagNotFound) {
		t.Fatalf("err = %v, want ErrTagNotFound", err)
	}
	if _, err := e.mgr.Run(ctx, "demo.md", Request{Mode: ModeTag, Tag: "missing"}); err != nil {
		t.Errorf("non-strict err = %v", err)
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	e := newEnv(t, Options{})
	for _, req := range []Request{
		{Mode: "sideways"},
		{Mode: ModeTag},
	} {
		if _, err := e.mgr.Run(context.Background(), "demo.md", req); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Run(%+v) err = %v, want ErrInvalidInput", req, err)
		}
	}
}

func TestRun_ExecutionErrorKeepsOutput(t *testing.T) {
	e := newEnv(t, Options{})
	doc := "```starlark\nprint(\"before\")\nfail(\"boom\")\n```\n"
	_ = os.WriteFile(filepath.Join(e.dir, "bad.md"), []byte(doc), 0o644)

	res, err := e.mgr.Run(context.Background(), "bad.md", Request{})
	var execErr *kernel.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *kernel.ExecutionError", err)
	}
	if res.Output != "before\n" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestRestartAndNamespace(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	if _, err := e.mgr.Run(ctx, "demo.md", Request{Mode: ModeTag, Tag: "math"}); err != nil {
		t.Fatal(err)
	}

	data, _, err := e.mgr.Namespace("demo.md")
	if err != nil {
		t.Fatal(err)
	}
	if data["total"] != int64(42) {
		t.Errorf("total = %#v", data["total"])
	}

	if err := e.mgr.Restart("demo.md"); err != nil {
		t.Fatal(err)
	}
	data, _, _ = e.mgr.Namespace("demo.md")
	if len(data) != 0 {
		t.Errorf("namespace after restart = %v", data)
	}

	if err := e.mgr.Restart("other.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Restart of closed session err = %v", err)
	}
}

func TestReload_KeepsNamespace(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	if _, err := e.mgr.Open(ctx, "demo.md"); err != nil {
		t.Fatal(err)
	}

	updated := demoDoc + "\n```starlark\n# extra\nprint(base)\n```\n"
	_ = os.WriteFile(filepath.Join(e.dir, "demo.md"), []byte(updated), 0o644)

	info, err := e.mgr.Reload("demo.md")
	if err != nil {
		t.Fatal(err)
	}
	if info.Blocks != 6 {
		t.Errorf("blocks = %d", info.Blocks)
	}
	res, err := e.mgr.Run(ctx, "demo.md", Request{Mode: ModeTag, Tag: "extra", Strict: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "40\n" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestClose_RunsTeardownHook(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	if _, err := e.mgr.Open(ctx, "demo.md"); err != nil {
		t.Fatal(err)
	}
	if err := e.mgr.Close(ctx, "demo.md"); err != nil {
		t.Fatal(err)
	}
	got := e.executed()
	if len(got) != 2 || got[1] != `print("bye")` {
		t.Errorf("executed = %q", got)
	}
	if len(e.mgr.Sessions()) != 0 {
		t.Errorf("sessions = %v", e.mgr.Sessions())
	}
	if err := e.mgr.Close(ctx, "demo.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second Close err = %v", err)
	}
}

func TestSaveRestore(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	if _, err := e.mgr.Run(ctx, "demo.md", Request{Mode: ModeTag, Tag: "math"}); err != nil {
		t.Fatal(err)
	}
	st, err := e.mgr.Save("demo.md")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if st.Path != "demo.md" {
		t.Errorf("state path = %q", st.Path)
	}
	if err := e.mgr.Close(ctx, "demo.md"); err != nil {
		t.Fatal(err)
	}
	before := len(e.executed())

	info, err := e.mgr.Restore("demo.md")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if info.Blocks != 5 || len(info.Names) != 2 {
		t.Errorf("info = %+v", info)
	}
	if len(e.executed()) != before {
		t.Errorf("restore ran blocks: %q", e.executed()[before:])
	}

	res, err := e.mgr.Run(ctx, "demo.md", Request{Mode: ModeTag, Tag: "report", Strict: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "report 42\n" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestRestore_OpenSessionReplacesNamespace(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	if _, err := e.mgr.Open(ctx, "demo.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.Save("demo.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.Run(ctx, "demo.md", Request{Mode: ModeTag, Tag: "math"}); err != nil {
		t.Fatal(err)
	}

	info, err := e.mgr.Restore("demo.md")
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Names) != 1 || info.Names[0] != "base" {
		t.Errorf("names = %v", info.Names)
	}
}

func TestRestore_NoSnapshot(t *testing.T) {
	e := newEnv(t, Options{})
	if _, err := e.mgr.Restore("demo.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEviction_RunsTeardownHook(t *testing.T) {
	e := newEnv(t, Options{TTL: 50 * time.Millisecond})
	if _, err := e.mgr.Open(context.Background(), "demo.md"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got := e.executed()
		if len(got) == 2 && got[1] == `print("bye")` {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("idle session not evicted, executed = %q", e.executed())
}
