// Package models defines the types shared by the workspace services.
package models

import "time"

// NotebookMetadata is the file-level view of a workspace notebook returned by
// storage listings.
type NotebookMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotebookSummary is an indexed notebook as returned by list operations.
type NotebookSummary struct {
	Path      string    `json:"path"`
	Title     string    `json:"title,omitempty"`
	Checksum  string    `json:"checksum"`
	Blocks    int       `json:"blocks"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notebook is an indexed notebook with its tagged blocks.
type Notebook struct {
	NotebookSummary
	Metadata map[string]any `json:"metadata,omitempty"`
	Cells    []BlockInfo    `json:"cells"`
}

// BlockInfo is the indexed form of one loaded block.
type BlockInfo struct {
	Position int      `json:"position"`
	Kind     string   `json:"kind"`
	Tags     []string `json:"tags"`
	Source   string   `json:"source"`
}

// TagRef locates a block carrying a tag.
type TagRef struct {
	Tag      string `json:"tag"`
	Path     string `json:"path"`
	Position int    `json:"position"`
}

// TagCount is a tag with the number of blocks carrying it.
type TagCount struct {
	Tag    string `json:"tag"`
	Blocks int    `json:"blocks"`
}
