//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notebooks_fts USING fts5(
			path UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, path, title, body string, tags []string) error {
	if _, err := tx.Exec(`DELETE FROM notebooks_fts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: clear fts: %w", err)
	}
	_, err := tx.Exec(`INSERT INTO notebooks_fts (path, title, body, tags) VALUES (?, ?, ?, ?)`,
		path, title, body, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) {
	_, _ = tx.Exec(`DELETE FROM notebooks_fts WHERE path = ?`, path)
}

// Search runs the text of query as an FTS5 match over titles, block sources
// and tags, ranked by bm25. tag:<name> terms filter by exact block tag; a
// query made only of tag terms lists the matching notebooks by path.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	sq := parseQuery(query)
	frag, tagArgs := sq.tagFilter("path")

	var rows *sql.Rows
	var err error
	switch {
	case sq.Text != "":
		q := `
			SELECT path, title, snippet(notebooks_fts, 2, '<b>', '</b>', '...', 64)
			FROM notebooks_fts
			WHERE notebooks_fts MATCH ?`
		args := []any{sq.Text}
		if frag != "" {
			q += " AND " + frag
			args = append(args, tagArgs...)
		}
		rows, err = db.conn.Query(q+" ORDER BY rank LIMIT ?", append(args, limit)...)
	case frag != "":
		rows, err = db.conn.Query(`
			SELECT path, title, substr(body, 1, 120)
			FROM notebooks
			WHERE `+frag+`
			ORDER BY path
			LIMIT ?`, append(tagArgs, limit)...)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	results, err := scanResults(rows)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return results, nil
}
