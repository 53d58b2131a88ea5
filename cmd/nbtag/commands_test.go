package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/nbtag/internal/notebook"
)

const flowDoc = "# Flow\n\n" +
	"```starlark __init__\nn = 1\nprint(\"init\")\n```\n\n" +
	"## Steps\n\n" +
	"```starlark\n# grow\nn = n * 10\nprint(\"grow\", n)\n```\n\n" +
	"```starlark\n# __skip__\nprint(\"skipped\")\n```\n\n" +
	"```starlark\n# done\nprint(\"done\", n)\n```\n\n" +
	"```starlark __del__\nprint(\"bye\")\n```\n"

func writeNotebook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.md")
	if err := os.WriteFile(path, []byte(flowDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	argv := append([]string{"nbtag", "--config", missing}, args...)
	err := app.Run(context.Background(), argv)
	return stdout.String(), stderr.String(), err
}

func TestTags(t *testing.T) {
	path := writeNotebook(t)
	out, _, err := runApp(t, "tags", path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if lines[1] != "3\tcode\t[Flow, # Flow, Steps, ## Steps, grow]\t# grow" {
		t.Errorf("grow line = %q", lines[1])
	}
}

func TestRun(t *testing.T) {
	path := writeNotebook(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"all", nil, "init\ngrow 10\ndone 10\nbye\n"},
		{"all without blacklist", []string{"--all"}, "init\ninit\ngrow 10\nskipped\ndone 10\nbye\nbye\n"},
		{"exclude", []string{"--exclude", "grow"}, "init\ndone 1\nbye\n"},
		{"tag", []string{"--tag", "grow"}, "init\ngrow 10\nbye\n"},
		{"before", []string{"--before", "done"}, "init\ninit\ngrow 10\nskipped\nbye\n"},
		{"after", []string{"--after", "grow"}, "init\nskipped\ndone 1\nbye\nbye\n"},
		{"missing tag", []string{"--tag", "nope"}, "init\nbye\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run"}, tt.args...)
			out, _, err := runApp(t, append(args, path)...)
			if err != nil {
				t.Fatal(err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	path := writeNotebook(t)

	_, _, err := runApp(t, "run", "--tag", "nope", "--strict", path)
	if !errors.Is(err, notebook.ErrTagNotFound) {
		t.Errorf("strict missing tag: err = %v", err)
	}
	if _, _, err := runApp(t, "run", "--tag", "grow", "--after", "grow", path); err == nil {
		t.Error("expected error for conflicting mode flags")
	}
	if _, _, err := runApp(t, "run"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRun_ExecutionErrorPrintsBacktrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.md")
	doc := "```starlark\n# boom\nfail(\"broken step\")\n```\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := runApp(t, "run", path)
	if err == nil || !strings.Contains(err.Error(), "broken step") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(stderr, "Traceback") {
		t.Errorf("stderr = %q", stderr)
	}
}
