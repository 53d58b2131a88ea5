// Package kernel defines the execution host that notebook code blocks run on
// and provides a Starlark implementation of it.
package kernel

import (
	"context"
	"fmt"
	"maps"
)

// Namespace is the mutable set of global bindings shared by every block a
// notebook executes. It is passed by reference: hosts read and rebind names
// in place.
type Namespace map[string]any

// Clone returns a shallow copy of ns. A nil ns yields an empty namespace.
func (ns Namespace) Clone() Namespace {
	if ns == nil {
		return Namespace{}
	}
	return maps.Clone(ns)
}

// Source is one unit of code handed to a Host.
type Source struct {
	// Name identifies the block in diagnostics, e.g. "<cell 3>".
	Name string
	Text string
}

// CellName returns the diagnostic name for the block at document position i.
func CellName(i int) string {
	return fmt.Sprintf("<cell %d>", i)
}

// Host executes source text against a namespace.
type Host interface {
	// Execute runs src with ns as its global environment. Bindings made by
	// src are visible in ns afterwards, even when execution fails part way.
	// Failures in the executed code are reported as *ExecutionError.
	Execute(ctx context.Context, src Source, ns Namespace) error
}

// ExecutionError reports a failure raised by executed code. Line and Column
// locate the innermost frame inside Cell when known.
type ExecutionError struct {
	Cell      string
	Line      int
	Column    int
	Msg       string
	Backtrace string
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("kernel: %s:%d:%d: %s", e.Cell, e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("kernel: %s: %s", e.Cell, e.Msg)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
