package notebook

import (
	"errors"
	"testing"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name   string
		source string
		kind   DirectiveKind
		tags   []string
	}{
		{"empty", "", DirectiveNone, nil},
		{"plain code", "x = 1\n# later comment", DirectiveNone, nil},
		{"open", "##block setup\nx = 1", DirectiveOpen, []string{"setup"}},
		{"open keeps inner spaces", "##block  data load \n", DirectiveOpen, []string{"data load"}},
		{"close", "##lastblock\nx = 1", DirectiveClose, nil},
		{"close trailing space", "##lastblock  \r\nx = 1", DirectiveClose, nil},
		{"close prefix only", "##lastblocks", DirectiveInline, []string{"lastblocks"}},
		{"inline", "#foo bar\nprint(1)", DirectiveInline, []string{"foo", "bar"}},
		{"inline hashes", "## a  b ##", DirectiveInline, []string{"a", "b"}},
		{"inline crlf", "# x\r\ny", DirectiveInline, []string{"x"}},
		{"bare hash", "#\nx", DirectiveInline, nil},
		{"block without space", "##block", DirectiveInline, []string{"block"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDirective(tt.source)
			if err != nil {
				t.Fatalf("ParseDirective: %v", err)
			}
			if d.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", d.Kind, tt.kind)
			}
			if !equalStrings(d.Tags, tt.tags) {
				t.Errorf("tags = %q, want %q", d.Tags, tt.tags)
			}
		})
	}
}

func TestParseDirective_EmptyBlockName(t *testing.T) {
	_, err := ParseDirective("##block   \nx = 1")
	if !errors.Is(err, ErrInvalidDirective) {
		t.Fatalf("err = %v, want ErrInvalidDirective", err)
	}
	var dirErr *InvalidDirectiveError
	if !errors.As(err, &dirErr) || dirErr.Position != -1 {
		t.Errorf("err = %#v", err)
	}
}
