// Package nbformat reads notebook documents into an ordered list of cells.
//
// Two containers are supported: Jupyter .ipynb files (nbformat 3 and 4) and
// literate Markdown files whose fenced code blocks are the code cells.
package nbformat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMalformed is returned when a document cannot be decoded.
var ErrMalformed = errors.New("malformed notebook")

// CellType is the kind of a cell.
type CellType string

// Cell types.
const (
	Markdown CellType = "markdown"
	Code     CellType = "code"
	Raw      CellType = "raw"
)

// Cell is one content block of a document.
type Cell struct {
	Type   CellType
	Source string
	// Tags are the tags declared in the cell's own metadata.
	Tags []string
}

// Document is a decoded notebook.
type Document struct {
	Cells    []Cell
	Metadata map[string]any
}

// Title returns the metadata "title", if any.
func (d *Document) Title() string {
	if d.Metadata == nil {
		return ""
	}
	if t, ok := d.Metadata["title"].(string); ok {
		return t
	}
	return ""
}

// Supported reports whether name has an extension ReadFile understands.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ipynb", ".md", ".markdown":
		return true
	}
	return false
}

// Parse decodes data according to the extension of name.
func Parse(name string, data []byte) (*Document, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ipynb":
		return parseIPYNB(data)
	case ".md", ".markdown":
		return parseLiterate(data)
	}
	return nil, fmt.Errorf("unsupported extension %q: %w", filepath.Ext(name), ErrMalformed)
}

// ReadFile reads and decodes the document at path.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nbformat: read %s: %w", path, err)
	}
	doc, err := Parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("nbformat: %s: %w", path, err)
	}
	return doc, nil
}
