package notebook

import (
	"errors"
	"reflect"
	"testing"

	"github.com/starford/nbtag/internal/markdown"
	"github.com/starford/nbtag/internal/nbformat"
)

func blockTags(blocks []Block) [][]string {
	out := make([][]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.Tags.Slice()
	}
	return out
}

func TestLoad_HeadingTags(t *testing.T) {
	blocks, err := Load(scenarioDoc(), LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := [][]string{
		{"A", "# A"},
		{"A", "# A", "B", "## B"},
	}
	if got := blockTags(blocks); !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %q, want %q", got, want)
	}
	if blocks[0].Position != 1 || blocks[1].Position != 3 {
		t.Errorf("positions = %d, %d", blocks[0].Position, blocks[1].Position)
	}
}

func TestLoad_SetextAndSiblingHeadings(t *testing.T) {
	d := doc(
		md("Title\n=====\n\nintro\n\nPart one\n--------"),
		code("a"),
		md("Part two\n--------"),
		code("b"),
	)
	blocks, err := Load(d, LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"Title", "# Title", "Part one", "## Part one"},
		{"Title", "# Title", "Part two", "## Part two"},
	}
	if got := blockTags(blocks); !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %q, want %q", got, want)
	}
}

func TestLoad_BlockScope(t *testing.T) {
	d := doc(
		code("before"),
		code("##block S\na"),
		code("b"),
		code("##block T\nc"),
		code("##lastblock\nd"),
		code("e"),
	)
	blocks, err := Load(d, LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{NoTag}, {"S"}, {"S"}, {"T"}, {NoTag}, {NoTag}}
	if got := blockTags(blocks); !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %q, want %q", got, want)
	}
}

func TestLoad_ScopeCombinesWithHeadingsAndDeclaredTags(t *testing.T) {
	cell := code("##block S\nx")
	cell.Tags = []string{"declared", "A"}
	blocks, err := Load(doc(md("# A"), cell, code("# extra S\ny")), LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"declared", "A", "# A", "S"},
		{"A", "# A", "S", "extra"},
	}
	if got := blockTags(blocks); !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %q, want %q", got, want)
	}
}

func TestLoad_InlineTagsAreSeparate(t *testing.T) {
	blocks, err := Load(doc(code("#foo bar\nprint(1)")), LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	tags := blocks[0].Tags
	if !tags.Has("foo") || !tags.Has("bar") || tags.Has("foo bar") {
		t.Errorf("tags = %v", tags)
	}
}

func TestLoad_Markdown(t *testing.T) {
	d := doc(md("# A\ntext"), code("x"), nbformat.Cell{Type: nbformat.Raw, Source: "raw"})

	blocks, err := Load(d, LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].Kind != KindCode {
		t.Fatalf("default load kept %d blocks", len(blocks))
	}

	blocks, err = Load(d, LoadOptions{KeepMarkdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 || blocks[0].Kind != KindMarkdown {
		t.Fatalf("blocks = %+v", blocks)
	}
	if !reflect.DeepEqual(blocks[0].Tags.Slice(), []string{"A", "# A"}) {
		t.Errorf("markdown tags = %v", blocks[0].Tags)
	}
}

func TestLoad_MarkdownIgnoresDirectives(t *testing.T) {
	blocks, err := Load(doc(md("##block S"), code("x")), LoadOptions{KeepMarkdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if blocks[1].Tags.Has("S") {
		t.Errorf("markdown opened a scope: %v", blocks[1].Tags)
	}
}

func TestLoad_InvalidDirective(t *testing.T) {
	_, err := Load(doc(md("# A"), code("x"), code("##block \ny")), LoadOptions{})
	var dirErr *InvalidDirectiveError
	if !errors.As(err, &dirErr) {
		t.Fatalf("err = %v, want *InvalidDirectiveError", err)
	}
	if dirErr.Position != 2 {
		t.Errorf("Position = %d, want 2", dirErr.Position)
	}
}

func TestLoad_Deterministic(t *testing.T) {
	d := doc(md("# A"), code("##block S\nx"), md("## B"), code("# t\ny"), code("##lastblock\nz"))
	first, err := Load(d, LoadOptions{KeepMarkdown: true})
	if err != nil {
		t.Fatal(err)
	}
	second, err := Load(d, LoadOptions{KeepMarkdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("loads differ:\n%+v\n%+v", first, second)
	}
}

func TestLoad_CustomHeadingTokenizer(t *testing.T) {
	calls := 0
	blocks, err := Load(doc(md("whatever"), code("x")), LoadOptions{
		Headings: func(string) []markdown.Heading {
			calls++
			return []markdown.Heading{{Level: 2, Text: "Fake"}}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || !blocks[0].Tags.Has("## Fake") {
		t.Errorf("calls = %d, tags = %v", calls, blocks[0].Tags)
	}
}
