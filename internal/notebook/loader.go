package notebook

import (
	"errors"

	"github.com/starford/nbtag/internal/markdown"
	"github.com/starford/nbtag/internal/nbformat"
)

// Kind is the content kind of a block.
type Kind int

// Block kinds.
const (
	KindCode Kind = iota
	KindMarkdown
)

func (k Kind) String() string {
	if k == KindMarkdown {
		return "markdown"
	}
	return "code"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Block is one tagged unit of a loaded document.
type Block struct {
	// Position is the index of the cell in the document.
	Position int    `json:"position"`
	Kind     Kind   `json:"kind"`
	Source   string `json:"source"`
	Tags     TagSet `json:"tags"`
}

// LoadOptions configures Load.
type LoadOptions struct {
	// KeepMarkdown retains Markdown cells as blocks. Otherwise they only
	// contribute headings.
	KeepMarkdown bool
	// Headings tokenizes Markdown; nil uses markdown.Headings.
	Headings func(src string) []markdown.Heading
}

// Load tags the cells of doc in a single forward pass and returns the
// retained blocks in document order. Code cells are always retained; raw
// cells never are.
func Load(doc *nbformat.Document, opts LoadOptions) ([]Block, error) {
	headings := opts.Headings
	if headings == nil {
		headings = markdown.Headings
	}

	var l loader
	var blocks []Block
	for i, cell := range doc.Cells {
		switch cell.Type {
		case nbformat.Markdown:
			for _, h := range headings(cell.Source) {
				l.headings.Observe(h.Level, h.Text)
			}
			if !opts.KeepMarkdown {
				continue
			}
			blocks = append(blocks, Block{
				Position: i,
				Kind:     KindMarkdown,
				Source:   cell.Source,
				Tags:     l.resolve(cell.Tags, Directive{Kind: DirectiveNone}),
			})

		case nbformat.Code:
			d, err := ParseDirective(cell.Source)
			if err != nil {
				var dirErr *InvalidDirectiveError
				if errors.As(err, &dirErr) {
					dirErr.Position = i
				}
				return nil, err
			}
			blocks = append(blocks, Block{
				Position: i,
				Kind:     KindCode,
				Source:   cell.Source,
				Tags:     l.resolve(cell.Tags, d),
			})
		}
	}
	return blocks, nil
}

// loader carries the tagging state of one pass: the heading path and the
// open scope tag. A fresh loader starts every pass.
type loader struct {
	headings HeadingTracker
	scope    string
}

// resolve applies d to the scope state and returns the block's tags: the
// declared tags, both forms of every active heading, the open scope tag and
// the inline directive tags. A closing directive ends the scope before the
// block is tagged.
func (l *loader) resolve(declared []string, d Directive) TagSet {
	switch d.Kind {
	case DirectiveOpen:
		l.scope = d.Tags[0]
	case DirectiveClose:
		l.scope = ""
	}

	var b tagBuilder
	b.add(declared...)
	for _, h := range l.headings.Snapshot() {
		b.add(h.Tags()...)
	}
	b.add(l.scope)
	if d.Kind == DirectiveInline {
		b.add(d.Tags...)
	}
	return b.build()
}
