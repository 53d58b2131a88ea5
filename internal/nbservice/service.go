// Package nbservice coordinates workspace storage and the notebook index.
package nbservice

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/starford/nbtag/internal/apperr"
	"github.com/starford/nbtag/internal/checksum"
	"github.com/starford/nbtag/internal/index"
	"github.com/starford/nbtag/internal/models"
	"github.com/starford/nbtag/internal/nbformat"
	"github.com/starford/nbtag/internal/storage"
)

// Service coordinates storage and index operations.
type Service struct {
	store storage.Provider
	db    *index.DB
}

// NewService creates a new notebook service.
func NewService(store storage.Provider, db *index.DB) *Service {
	return &Service{store: store, db: db}
}

func checkPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path is required", apperr.ErrInvalidInput)
	}
	if !nbformat.Supported(path) {
		return fmt.Errorf("%w: %s is not a notebook", apperr.ErrInvalidInput, path)
	}
	return nil
}

// read maps the storage errors of path to service sentinels.
func (s *Service) read(path string) ([]byte, error) {
	data, err := s.store.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, apperr.ErrNotFound
	case errors.Is(err, storage.ErrOutsideRoot):
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	case err != nil:
		return nil, err
	}
	return data, nil
}

// describe loads the notebook in data. Documents that cannot be loaded are
// invalid input.
func describe(path string, data []byte) (*models.Notebook, error) {
	nb, err := index.Describe(path, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return nb, nil
}

// GetNotebook reads a notebook from storage and returns its tagged blocks.
func (s *Service) GetNotebook(_ context.Context, path string) (*models.Notebook, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	data, err := s.read(path)
	if err != nil {
		return nil, err
	}
	return describe(path, data)
}

// CreateNotebook writes a new notebook and indexes it. The content must
// load; a notebook with an invalid directive is rejected before it is
// written.
func (s *Service) CreateNotebook(_ context.Context, path string, content []byte) (*models.Notebook, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	if _, err := s.store.Read(path); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	nb, err := describe(path, content)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.IndexFile(path, content); err != nil {
		return nil, err
	}
	return nb, nil
}

// UpdateNotebook writes updated content with optimistic concurrency: a
// non-empty ifMatch (an If-Match value or bare checksum) must accept the
// checksum of the stored file.
func (s *Service) UpdateNotebook(_ context.Context, path string, content []byte, ifMatch string) (*models.Notebook, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	existing, err := s.read(path)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && !checksum.Match(ifMatch, checksum.Sum(existing)) {
		return nil, apperr.ErrConflict
	}
	nb, err := describe(path, content)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.IndexFile(path, content); err != nil {
		return nil, err
	}
	return nb, nil
}

// DeleteNotebook removes a notebook from storage and index.
func (s *Service) DeleteNotebook(_ context.Context, path string) error {
	if err := s.store.Delete(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	return s.db.DeleteNotebook(path)
}

// MoveNotebook renames a notebook and moves its index entry.
func (s *Service) MoveNotebook(_ context.Context, from, to string) (*models.Notebook, error) {
	if err := checkPath(to); err != nil {
		return nil, err
	}
	if _, err := s.store.Read(to); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	data, err := s.read(from)
	if err != nil {
		return nil, err
	}
	if err := s.store.Move(from, to); err != nil {
		return nil, err
	}
	if err := s.db.DeleteNotebook(from); err != nil {
		return nil, err
	}
	if err := s.IndexFile(to, data); err != nil {
		return nil, err
	}
	return describe(to, data)
}

// ListNotebooks returns paginated notebooks with an optional tag filter.
func (s *Service) ListNotebooks(_ context.Context, limit, offset int, tag string) ([]models.NotebookSummary, int, error) {
	items, total, err := s.db.ListNotebooks(limit, offset, tag)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].Tags = nonNilSlice(items[i].Tags)
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Tags returns every tag of the workspace with its block count.
func (s *Service) Tags(_ context.Context) ([]models.TagCount, error) {
	return s.db.Tags()
}

// FindTag returns the blocks carrying tag. It returns apperr.ErrNotFound
// when no indexed block carries it.
func (s *Service) FindTag(_ context.Context, tag string) ([]models.TagRef, error) {
	refs, err := s.db.FindTag(tag)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("tag %q: %w", tag, apperr.ErrNotFound)
	}
	return refs, nil
}

// IndexFile loads data and upserts it into the index.
func (s *Service) IndexFile(path string, data []byte) error {
	return index.IndexFile(s.db, path, data)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
