package notebook

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/starford/nbtag/internal/kernel"
)

// State is the persistable part of a notebook: its document path and the
// serializable contents of its namespace. Blocks are not persisted.
type State struct {
	Path      string         `json:"path"`
	Namespace map[string]any `json:"namespace"`
	// Skipped lists bindings left out because they cannot be serialized.
	Skipped []string `json:"skipped,omitempty"`
}

// State exports the notebook's path and namespace.
func (nb *Notebook) State() (State, error) {
	data, skipped, err := kernel.Export(nb.ns)
	if err != nil {
		return State{}, fmt.Errorf("notebook: state: %w", err)
	}
	return State{Path: nb.path, Namespace: data, Skipped: skipped}, nil
}

// Restore rebuilds a notebook from st without reading the document or running
// InitTag. The restored notebook has no blocks until Refresh is called.
// A namespace option in opts is replaced by the restored namespace.
func Restore(st State, opts ...Option) (*Notebook, error) {
	opts = append(opts, WithNamespace(kernel.Import(st.Namespace)))
	return newNotebook(st.Path, opts...)
}

// Encode writes st as JSON.
func (st State) Encode(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(st); err != nil {
		return fmt.Errorf("notebook: encode state: %w", err)
	}
	return nil
}

// DecodeState reads a State written by Encode. Numbers keep their integer or
// float form.
func DecodeState(r io.Reader) (State, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var st State
	if err := dec.Decode(&st); err != nil {
		return State{}, fmt.Errorf("notebook: decode state: %w", err)
	}
	return st, nil
}
