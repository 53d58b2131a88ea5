package nbformat

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// codeLanguages are the fence info strings that mark a code cell.
var codeLanguages = map[string]struct{}{
	"starlark": {},
	"star":     {},
	"python":   {},
	"py":       {},
}

// parseLiterate splits a Markdown document into cells. A fenced block whose
// info string starts with one of codeLanguages is a code cell; any further
// words in the info string are the cell's declared tags. Everything between
// code cells is a Markdown cell.
func parseLiterate(data []byte) (*Document, error) {
	fm, body := splitFrontmatter(data)

	doc := &Document{Metadata: fm}
	var text []string

	flushText := func() {
		src := strings.Trim(strings.Join(text, "\n"), "\n")
		text = text[:0]
		if strings.TrimSpace(src) == "" {
			return
		}
		doc.Cells = append(doc.Cells, Cell{Type: Markdown, Source: src})
	}

	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines); i++ {
		marker, info, ok := openFence(lines[i])
		if !ok {
			text = append(text, lines[i])
			continue
		}

		// Find the closing fence; an unclosed fence runs to end of document.
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if closesFence(lines[j], marker) {
				end = j
				break
			}
		}

		fields := strings.Fields(info)
		if len(fields) == 0 || !isCodeLanguage(fields[0]) {
			// Not a code cell: keep the whole fence as Markdown text.
			stop := min(end+1, len(lines))
			text = append(text, lines[i:stop]...)
			i = stop - 1
			continue
		}

		flushText()
		doc.Cells = append(doc.Cells, Cell{
			Type:   Code,
			Source: strings.Join(lines[i+1:end], "\n"),
			Tags:   fields[1:],
		})
		i = end
	}
	flushText()

	return doc, nil
}

func isCodeLanguage(lang string) bool {
	_, ok := codeLanguages[strings.ToLower(lang)]
	return ok
}

// openFence reports whether line opens a fenced block, returning the fence
// marker (e.g. "```") and the info string.
func openFence(line string) (marker, info string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 || len(trimmed) < 3 {
		return "", "", false
	}
	ch := trimmed[0]
	if ch != '`' && ch != '~' {
		return "", "", false
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == ch {
		n++
	}
	if n < 3 {
		return "", "", false
	}
	info = strings.TrimSpace(trimmed[n:])
	if ch == '`' && strings.Contains(info, "`") {
		return "", "", false
	}
	return trimmed[:n], info, true
}

func closesFence(line, marker string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < len(marker) {
		return false
	}
	return strings.Trim(trimmed, marker[:1]) == "" && strings.HasPrefix(trimmed, marker)
}

// splitFrontmatter separates YAML frontmatter (between leading --- lines)
// from the body. Missing, unterminated or invalid frontmatter leaves the whole
// input as body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	trimmed := strings.TrimLeft(text, "\n")
	if !strings.HasPrefix(trimmed, delim+"\n") {
		return nil, text
	}
	rest := trimmed[len(delim)+1:]

	var yamlBlock, body string
	switch {
	case strings.HasPrefix(rest, delim+"\n"):
		body = rest[len(delim)+1:]
	case strings.Contains(rest, "\n"+delim+"\n"):
		idx := strings.Index(rest, "\n"+delim+"\n")
		yamlBlock, body = rest[:idx], rest[idx+len(delim)+2:]
	case strings.HasSuffix(rest, "\n"+delim):
		yamlBlock = strings.TrimSuffix(rest, "\n"+delim)
	default:
		return nil, text
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, text
	}
	return fm, strings.TrimLeft(body, "\n")
}
