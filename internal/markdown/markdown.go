// Package markdown extracts heading structure from Markdown text and renders
// Markdown blocks for display.
package markdown

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Heading is one ATX ("# Title") or setext ("Title\n=====") heading.
type Heading struct {
	Level int
	Text  string
}

var md = goldmark.New()

// Headings returns the headings of src in document order. Text is the raw
// inline source of the heading with surrounding whitespace removed. Lines
// inside code blocks never produce headings.
func Headings(src string) []Heading {
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))

	var out []Heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		out = append(out, Heading{Level: h.Level, Text: headingText(h, source)})
		return ast.WalkSkipChildren, nil
	})
	return out
}

func headingText(h *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	lines := h.Lines()
	for i := 0; i < lines.Len(); i++ {
		if i > 0 {
			buf.WriteByte(' ')
		}
		seg := lines.At(i)
		buf.Write(bytes.TrimSpace(seg.Value(source)))
	}
	return strings.TrimSpace(buf.String())
}

// HTMLRenderer writes Markdown blocks as HTML.
type HTMLRenderer struct {
	W io.Writer
}

// Render converts src to HTML and writes it to r.W.
func (r HTMLRenderer) Render(src string) error {
	if err := md.Convert([]byte(src), r.W); err != nil {
		return fmt.Errorf("markdown: render: %w", err)
	}
	return nil
}

// TextRenderer writes Markdown blocks verbatim, one blank line apart.
type TextRenderer struct {
	W io.Writer
}

// Render writes src followed by a blank line.
func (r TextRenderer) Render(src string) error {
	_, err := io.WriteString(r.W, strings.TrimRight(src, "\n")+"\n\n")
	return err
}
