package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Starlark is a Host backed by go.starlark.net. Each block runs as a REPL
// chunk, so it may read names bound by earlier blocks and rebind them.
type Starlark struct {
	stdout io.Writer
	opts   *syntax.FileOptions
}

// NewStarlark returns a Starlark host whose print output goes to stdout.
// A nil stdout writes to os.Stdout.
func NewStarlark(stdout io.Writer) *Starlark {
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Starlark{
		stdout: stdout,
		opts: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
	}
}

// Execute implements Host.
func (s *Starlark) Execute(ctx context.Context, src Source, ns Namespace) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := s.opts.Parse(src.Name, src.Text, 0)
	if err != nil {
		return toExecutionError(src.Name, err)
	}

	globals := make(starlark.StringDict, len(ns))
	for name, v := range ns {
		sv, err := ToStarlark(v)
		if err != nil {
			return fmt.Errorf("kernel: namespace %q: %w", name, err)
		}
		globals[name] = sv
	}

	thread := &starlark.Thread{
		Name: src.Name,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(s.stdout, msg)
		},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(context.Cause(ctx).Error())
		case <-done:
		}
	}()

	execErr := starlark.ExecREPLChunk(f, thread, globals)

	// Bindings made before a failure stay visible; execution is not
	// transactional.
	for name, v := range globals {
		ns[name] = v
	}

	if execErr != nil {
		return toExecutionError(src.Name, execErr)
	}
	return nil
}

func toExecutionError(cell string, err error) error {
	out := &ExecutionError{Cell: cell, Msg: err.Error(), Err: err}

	var evalErr *starlark.EvalError
	var synErr syntax.Error
	var resolveErrs resolve.ErrorList

	switch {
	case errors.As(err, &evalErr):
		out.Msg = evalErr.Msg
		out.Backtrace = evalErr.Backtrace()
		if n := len(evalErr.CallStack); n > 0 {
			pos := evalErr.CallStack[n-1].Pos
			out.Line, out.Column = int(pos.Line), int(pos.Col)
		}
	case errors.As(err, &synErr):
		out.Msg = synErr.Msg
		out.Line, out.Column = int(synErr.Pos.Line), int(synErr.Pos.Col)
	case errors.As(err, &resolveErrs) && len(resolveErrs) > 0:
		first := resolveErrs[0]
		out.Msg = first.Msg
		out.Line, out.Column = int(first.Pos.Line), int(first.Pos.Col)
	}
	return out
}
