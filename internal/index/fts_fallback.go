//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

// Without FTS5 the notebooks.body column is searched with LIKE.
func initFTS(_ *sql.DB) error { return nil }

func ftsUpsert(_ *sql.Tx, _, _, _ string, _ []string) error { return nil }

func ftsDelete(_ *sql.Tx, _ string) {}

// Search matches the words of query as one substring of titles, block
// sources and tags. tag:<name> terms filter by exact block tag. Results are
// ordered with title matches first.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	sq := parseQuery(query)

	var where []string
	var args []any
	if sq.Text != "" {
		like := "%" + escapeLike(sq.Text) + "%"
		where = append(where, `(title LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if frag, tagArgs := sq.tagFilter("path"); frag != "" {
		where = append(where, frag)
		args = append(args, tagArgs...)
	}
	if len(where) == 0 {
		return nil, nil
	}

	titleLike := "%" + escapeLike(sq.Text) + "%"
	args = append(args, titleLike, limit)
	rows, err := db.conn.Query(`
		SELECT path, title, body
		FROM notebooks
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY (title LIKE ? ESCAPE '\') DESC, path
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	results, err := scanResults(rows)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	for i := range results {
		results[i].Snippet = snippet(results[i].Snippet, sq.Text)
	}
	return results, nil
}
