// Package storage defines the workspace file-system abstraction.
package storage

import "github.com/starford/nbtag/internal/models"

// Provider is the interface for workspace file operations. Paths are
// relative to the workspace root.
type Provider interface {
	// List returns metadata for every notebook file under dir.
	List(dir string) ([]models.NotebookMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// Abs resolves path to an absolute file-system path inside the root.
	Abs(path string) (string, error)
}
