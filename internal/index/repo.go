package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/nbtag/internal/apperr"
	"github.com/starford/nbtag/internal/models"
)

// NotebookRow represents a row in the notebooks table.
type NotebookRow struct {
	Path      string
	Title     string
	Checksum  string
	Metadata  map[string]any
	Tags      []string
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertNotebook inserts or replaces a notebook, its blocks, block tags and
// FTS entry within a transaction.
func (db *DB) UpsertNotebook(n NotebookRow, blocks []models.BlockInfo) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if n.Tags == nil {
		n.Tags = []string{}
	}
	tagsJSON, _ := json.Marshal(n.Tags)
	metaJSON, err := json.Marshal(n.Metadata)
	if err != nil || n.Metadata == nil {
		metaJSON = []byte("{}")
	}
	body := blockBody(blocks)

	_, err = tx.Exec(`
		INSERT INTO notebooks (path, title, checksum, metadata, tags, blocks, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			metadata   = excluded.metadata,
			tags       = excluded.tags,
			blocks     = excluded.blocks,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, n.Path, n.Title, n.Checksum, string(metaJSON), string(tagsJSON), len(blocks), body, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert notebook: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, n.Path, n.Title, body, n.Tags); err != nil {
		return err
	}

	// Replace blocks and tags: delete old then bulk insert.
	if _, err := tx.Exec(`DELETE FROM blocks WHERE path = ?`, n.Path); err != nil {
		return fmt.Errorf("index: clear blocks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM block_tags WHERE path = ?`, n.Path); err != nil {
		return fmt.Errorf("index: clear block tags: %w", err)
	}
	if len(blocks) > 0 {
		blockStmt, err := tx.Prepare(`INSERT INTO blocks (path, position, kind, tags, source) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare block insert: %w", err)
		}
		defer blockStmt.Close()
		tagStmt, err := tx.Prepare(`INSERT OR IGNORE INTO block_tags (tag, path, position) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare tag insert: %w", err)
		}
		defer tagStmt.Close()

		for _, b := range blocks {
			tags := b.Tags
			if tags == nil {
				tags = []string{}
			}
			bt, _ := json.Marshal(tags)
			if _, err := blockStmt.Exec(n.Path, b.Position, b.Kind, string(bt), b.Source); err != nil {
				return fmt.Errorf("index: insert block: %w", err)
			}
			for _, tag := range tags {
				if _, err := tagStmt.Exec(tag, n.Path, b.Position); err != nil {
					return fmt.Errorf("index: insert block tag: %w", err)
				}
			}
		}
	}

	return tx.Commit()
}

// blockBody joins block sources for full-text search.
func blockBody(blocks []models.BlockInfo) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(b.Source)
	}
	return sb.String()
}

// DeleteNotebook removes a notebook, its blocks, tags and FTS entry.
// Saved snapshots are kept.
func (db *DB) DeleteNotebook(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM block_tags WHERE path = ?`, path)
	_, _ = tx.Exec(`DELETE FROM blocks WHERE path = ?`, path)
	_, _ = tx.Exec(`DELETE FROM notebooks WHERE path = ?`, path)

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a notebook, or empty string if
// not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notebooks WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllChecksums returns the stored checksum of every indexed notebook.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM notebooks`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// GetNotebook returns an indexed notebook with its blocks. It returns
// apperr.ErrNotFound when path is not indexed.
func (db *DB) GetNotebook(path string) (*models.Notebook, error) {
	var (
		nb       models.Notebook
		tags     string
		metadata string
	)
	err := db.conn.QueryRow(`
		SELECT path, title, checksum, metadata, tags, blocks, updated_at
		FROM notebooks WHERE path = ?
	`, path).Scan(&nb.Path, &nb.Title, &nb.Checksum, &metadata, &tags, &nb.Blocks, &nb.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: notebook %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get notebook: %w", err)
	}
	_ = json.Unmarshal([]byte(tags), &nb.Tags)
	_ = json.Unmarshal([]byte(metadata), &nb.Metadata)

	rows, err := db.conn.Query(`
		SELECT position, kind, tags, source FROM blocks
		WHERE path = ? ORDER BY position
	`, path)
	if err != nil {
		return nil, fmt.Errorf("index: get blocks: %w", err)
	}
	defer rows.Close()
	nb.Cells = []models.BlockInfo{}
	for rows.Next() {
		var b models.BlockInfo
		var bt string
		if err := rows.Scan(&b.Position, &b.Kind, &bt, &b.Source); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(bt), &b.Tags)
		nb.Cells = append(nb.Cells, b)
	}
	return &nb, rows.Err()
}

// ListNotebooks returns a page of notebooks ordered by path, optionally
// restricted to notebooks with a block carrying tag, and the total count.
func (db *DB) ListNotebooks(limit, offset int, tag string) ([]models.NotebookSummary, int, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	var args []any
	if tag != "" {
		where = `WHERE path IN (SELECT path FROM block_tags WHERE tag = ?)`
		args = append(args, tag)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notebooks `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count notebooks: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, title, checksum, tags, blocks, updated_at
		FROM notebooks `+where+`
		ORDER BY path
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list notebooks: %w", err)
	}
	defer rows.Close()

	out := []models.NotebookSummary{}
	for rows.Next() {
		var s models.NotebookSummary
		var tags string
		if err := rows.Scan(&s.Path, &s.Title, &s.Checksum, &tags, &s.Blocks, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		_ = json.Unmarshal([]byte(tags), &s.Tags)
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// FindTag returns every block carrying tag, ordered by path and position.
func (db *DB) FindTag(tag string) ([]models.TagRef, error) {
	rows, err := db.conn.Query(`
		SELECT tag, path, position FROM block_tags
		WHERE tag = ? ORDER BY path, position
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("index: find tag: %w", err)
	}
	defer rows.Close()

	out := []models.TagRef{}
	for rows.Next() {
		var r models.TagRef
		if err := rows.Scan(&r.Tag, &r.Path, &r.Position); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Tags returns every indexed tag with its block count, most used first.
func (db *DB) Tags() ([]models.TagCount, error) {
	rows, err := db.conn.Query(`
		SELECT tag, count(*) AS n FROM block_tags
		GROUP BY tag ORDER BY n DESC, tag
	`)
	if err != nil {
		return nil, fmt.Errorf("index: tags: %w", err)
	}
	defer rows.Close()

	out := []models.TagCount{}
	for rows.Next() {
		var c models.TagCount
		if err := rows.Scan(&c.Tag, &c.Blocks); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveSnapshot stores the serialized session state of a notebook, replacing
// any earlier snapshot.
func (db *DB) SaveSnapshot(path string, state []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO snapshots (path, state, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			state    = excluded.state,
			saved_at = excluded.saved_at
	`, path, string(state), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the saved state of a notebook and when it was saved.
// It returns apperr.ErrNotFound when no snapshot exists.
func (db *DB) LoadSnapshot(path string) ([]byte, time.Time, error) {
	var state string
	var savedAt time.Time
	err := db.conn.QueryRow(`SELECT state, saved_at FROM snapshots WHERE path = ?`, path).Scan(&state, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("index: snapshot %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("index: load snapshot: %w", err)
	}
	return []byte(state), savedAt, nil
}
