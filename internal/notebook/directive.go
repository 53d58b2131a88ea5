package notebook

import (
	"strings"
	"unicode"
)

const (
	blockOpenPrefix = "##block "
	blockClose      = "##lastblock"
)

// DirectiveKind classifies the first line of a code block.
type DirectiveKind int

// Directive kinds.
const (
	DirectiveNone   DirectiveKind = iota // no leading '#'
	DirectiveOpen                        // "##block <tag>"
	DirectiveClose                       // "##lastblock"
	DirectiveInline                      // "# tag1 tag2"
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveOpen:
		return "open"
	case DirectiveClose:
		return "close"
	case DirectiveInline:
		return "inline"
	}
	return "none"
}

// Directive is the parsed first line of a code block. For DirectiveOpen,
// Tags holds exactly the scope tag.
type Directive struct {
	Kind DirectiveKind
	Tags []string
}

// ParseDirective classifies the first line of a code block's source.
// A "##block" line with no tag name is rejected with *InvalidDirectiveError.
func ParseDirective(source string) (Directive, error) {
	if source == "" || source[0] != '#' {
		return Directive{Kind: DirectiveNone}, nil
	}
	line, _, _ := strings.Cut(source, "\n")
	line = strings.TrimRight(line, "\r")

	switch {
	case strings.HasPrefix(line, blockOpenPrefix):
		tag := strings.TrimSpace(line[len(blockOpenPrefix):])
		if tag == "" {
			return Directive{}, &InvalidDirectiveError{Position: -1, Line: line, Reason: "missing block tag name"}
		}
		return Directive{Kind: DirectiveOpen, Tags: []string{tag}}, nil

	case strings.TrimRightFunc(line, unicode.IsSpace) == blockClose:
		return Directive{Kind: DirectiveClose}, nil

	default:
		return Directive{Kind: DirectiveInline, Tags: strings.Fields(strings.Trim(line, "#"))}, nil
	}
}
