package index

import (
	"database/sql"
	"strings"
	"unicode/utf8"
)

// searchQuery is a parsed search string. Terms of the form tag:<name>
// restrict the results to notebooks with a block carrying that exact tag;
// the remaining words are matched as text.
type searchQuery struct {
	Text string
	Tags []string
}

const tagPrefix = "tag:"

func parseQuery(q string) searchQuery {
	var sq searchQuery
	var words []string
	for _, f := range strings.Fields(q) {
		if tag, ok := strings.CutPrefix(f, tagPrefix); ok && tag != "" {
			sq.Tags = append(sq.Tags, tag)
			continue
		}
		words = append(words, f)
	}
	sq.Text = strings.Join(words, " ")
	return sq
}

// tagFilter returns a WHERE fragment and its arguments selecting notebooks
// that carry every tag of sq. col names the path column being filtered.
func (sq searchQuery) tagFilter(col string) (string, []any) {
	if len(sq.Tags) == 0 {
		return "", nil
	}
	var b strings.Builder
	args := make([]any, 0, len(sq.Tags))
	for i, tag := range sq.Tags {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(col + " IN (SELECT path FROM block_tags WHERE tag = ?)")
		args = append(args, tag)
	}
	return b.String(), args
}

// escapeLike escapes the LIKE wildcards of s for use with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippetWidth is the number of runes kept on each side of a match.
const snippetWidth = 60

// snippet returns the part of body around the first case-insensitive match
// of text, or the start of body when there is none.
func snippet(body, text string) string {
	lower := strings.ToLower(body)
	i := -1
	if text != "" {
		i = strings.Index(lower, strings.ToLower(text))
	}
	if i < 0 {
		return truncate(body, 2*snippetWidth)
	}

	start := i
	for n := 0; n < snippetWidth && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(body[:start])
		start -= size
	}
	end := i + len(text)
	for n := 0; n < snippetWidth && end < len(body); n++ {
		_, size := utf8.DecodeRuneInString(body[end:])
		end += size
	}

	out := strings.TrimSpace(body[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(body) {
		out += "..."
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return strings.TrimSpace(s)
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
