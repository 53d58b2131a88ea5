package index

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/nbtag/internal/checksum"
	"github.com/starford/nbtag/internal/markdown"
	"github.com/starford/nbtag/internal/models"
	"github.com/starford/nbtag/internal/nbformat"
	"github.com/starford/nbtag/internal/notebook"
	"github.com/starford/nbtag/internal/storage"
)

// Sync walks the workspace and brings the index up to date:
//   - new/changed notebooks are loaded, tagged and upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteNotebook(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile loads and tags the notebook in data and upserts it into the DB.
func IndexFile(db *DB, path string, data []byte) error {
	nb, err := Describe(path, data)
	if err != nil {
		return err
	}
	row := NotebookRow{
		Path:      nb.Path,
		Title:     nb.Title,
		Checksum:  nb.Checksum,
		Metadata:  nb.Metadata,
		Tags:      nb.Tags,
		UpdatedAt: nb.UpdatedAt,
	}
	return db.UpsertNotebook(row, nb.Cells)
}

// Describe loads and tags the notebook in data without touching the index.
// Markdown cells are kept so that their text is searchable.
func Describe(path string, data []byte) (*models.Notebook, error) {
	doc, err := nbformat.Parse(path, data)
	if err != nil {
		return nil, err
	}
	blocks, err := notebook.Load(doc, notebook.LoadOptions{KeepMarkdown: true})
	if err != nil {
		return nil, fmt.Errorf("index: %s: %w", path, err)
	}

	infos := make([]models.BlockInfo, len(blocks))
	seen := make(map[string]struct{})
	tags := []string{}
	for i, b := range blocks {
		bt := []string{}
		if !b.Tags.Untagged() {
			bt = b.Tags.Slice()
		}
		for _, t := range bt {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				tags = append(tags, t)
			}
		}
		infos[i] = models.BlockInfo{
			Position: b.Position,
			Kind:     b.Kind.String(),
			Tags:     bt,
			Source:   b.Source,
		}
	}

	return &models.Notebook{
		NotebookSummary: models.NotebookSummary{
			Path:      path,
			Title:     docTitle(doc),
			Checksum:  checksum.Sum(data),
			Blocks:    len(infos),
			Tags:      tags,
			UpdatedAt: time.Now().UTC(),
		},
		Metadata: doc.Metadata,
		Cells:    infos,
	}, nil
}

// docTitle returns the metadata title, or else the text of the first heading.
func docTitle(doc *nbformat.Document) string {
	if t := doc.Title(); t != "" {
		return t
	}
	for _, c := range doc.Cells {
		if c.Type != nbformat.Markdown {
			continue
		}
		if hs := markdown.Headings(c.Source); len(hs) > 0 {
			return hs[0].Text
		}
	}
	return ""
}
