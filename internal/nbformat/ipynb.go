package nbformat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// multiline is a notebook text field, stored either as a string or as a
// list of lines that are concatenated as-is.
type multiline string

func (m *multiline) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = multiline(s)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("text field must be a string or list of strings")
	}
	*m = multiline(strings.Join(lines, ""))
	return nil
}

type cellMetadata struct {
	Tags []string `json:"tags"`
}

type rawCell struct {
	CellType string       `json:"cell_type"`
	Source   multiline    `json:"source"`
	Input    multiline    `json:"input"` // nbformat 3 code cells
	Level    int          `json:"level"` // nbformat 3 heading cells
	Metadata cellMetadata `json:"metadata"`
}

type rawNotebook struct {
	NBFormat   int            `json:"nbformat"`
	Metadata   map[string]any `json:"metadata"`
	Cells      []rawCell      `json:"cells"`
	Worksheets []struct {
		Cells []rawCell `json:"cells"`
	} `json:"worksheets"`
}

func parseIPYNB(data []byte) (*Document, error) {
	var nb rawNotebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("decode ipynb: %v: %w", err, ErrMalformed)
	}

	var cells []rawCell
	switch nb.NBFormat {
	case 4:
		cells = nb.Cells
	case 3:
		for _, ws := range nb.Worksheets {
			cells = append(cells, ws.Cells...)
		}
	default:
		return nil, fmt.Errorf("unsupported nbformat %d: %w", nb.NBFormat, ErrMalformed)
	}

	doc := &Document{Metadata: nb.Metadata, Cells: make([]Cell, 0, len(cells))}
	for i, c := range cells {
		cell, err := convertCell(nb.NBFormat, c)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %v: %w", i, err, ErrMalformed)
		}
		doc.Cells = append(doc.Cells, cell)
	}
	return doc, nil
}

// convertCell maps a raw cell onto the current cell model. nbformat 3
// heading cells become Markdown cells with an ATX heading.
func convertCell(version int, c rawCell) (Cell, error) {
	cell := Cell{Source: string(c.Source), Tags: c.Metadata.Tags}
	switch c.CellType {
	case "markdown":
		cell.Type = Markdown
	case "code":
		cell.Type = Code
		if version == 3 {
			cell.Source = string(c.Input)
		}
	case "raw":
		cell.Type = Raw
	case "heading":
		if version != 3 {
			return Cell{}, fmt.Errorf("heading cells require nbformat 3")
		}
		level := c.Level
		if level < 1 {
			level = 1
		}
		cell.Type = Markdown
		cell.Source = strings.Repeat("#", level) + " " + strings.TrimSpace(cell.Source)
	default:
		return Cell{}, fmt.Errorf("unknown cell type %q", c.CellType)
	}
	return cell, nil
}
