package index

import (
	"time"

	"github.com/starford/nbtag/internal/models"
)

// NotebookIndex defines the interface for notebook indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NotebookIndex interface {
	UpsertNotebook(n NotebookRow, blocks []models.BlockInfo) error
	DeleteNotebook(path string) error
	GetChecksum(path string) (string, error)
	AllChecksums() (map[string]string, error)
	GetNotebook(path string) (*models.Notebook, error)
	ListNotebooks(limit, offset int, tag string) ([]models.NotebookSummary, int, error)
	FindTag(tag string) ([]models.TagRef, error)
	Tags() ([]models.TagCount, error)
	Search(query string, limit int) ([]SearchResult, error)
	SaveSnapshot(path string, state []byte) error
	LoadSnapshot(path string) ([]byte, time.Time, error)
	Close() error
}

// Verify *DB satisfies NotebookIndex at compile time.
var _ NotebookIndex = (*DB)(nil)
