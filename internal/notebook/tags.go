package notebook

import (
	"encoding/json"
	"slices"
	"strings"
)

// NoTag is the single tag of a block that resolved no other tag. Selecting
// it selects the untagged blocks.
const NoTag = "\x00untagged"

// Reserved tags.
const (
	SkipTag = "__skip__" // excluded by RunAll unless the blacklist is disabled
	InitTag = "__init__" // run after the first load
	DelTag  = "__del__"  // run by Close
)

// TagSet is the immutable, insertion-ordered set of tags of a block.
type TagSet struct {
	tags []string
}

// NewTagSet returns a set of the non-empty tags given, deduplicated in order.
// An empty result is the singleton {NoTag}.
func NewTagSet(tags ...string) TagSet {
	var b tagBuilder
	b.add(tags...)
	return b.build()
}

// Has reports whether tag is in the set.
func (s TagSet) Has(tag string) bool {
	return slices.Contains(s.tags, tag)
}

// Len returns the number of tags.
func (s TagSet) Len() int { return len(s.tags) }

// Slice returns a copy of the tags in insertion order.
func (s TagSet) Slice() []string { return slices.Clone(s.tags) }

// Untagged reports whether the set is the {NoTag} sentinel.
func (s TagSet) Untagged() bool {
	return len(s.tags) == 1 && s.tags[0] == NoTag
}

func (s TagSet) intersects(set map[string]struct{}) bool {
	for _, t := range s.tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func (s TagSet) String() string {
	if s.Untagged() {
		return "[]"
	}
	return "[" + strings.Join(s.tags, ", ") + "]"
}

// MarshalJSON encodes the set as an array; the untagged sentinel is an
// empty array.
func (s TagSet) MarshalJSON() ([]byte, error) {
	if s.Untagged() {
		return []byte("[]"), nil
	}
	return json.Marshal(s.tags)
}

type tagBuilder struct {
	seen map[string]struct{}
	tags []string
}

func (b *tagBuilder) add(tags ...string) {
	if b.seen == nil {
		b.seen = make(map[string]struct{})
	}
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, dup := b.seen[t]; dup {
			continue
		}
		b.seen[t] = struct{}{}
		b.tags = append(b.tags, t)
	}
}

func (b *tagBuilder) build() TagSet {
	if len(b.tags) == 0 {
		return TagSet{tags: []string{NoTag}}
	}
	return TagSet{tags: b.tags}
}

// Heading is an entry of the active heading path.
type Heading struct {
	Level int
	Text  string
}

// Tags returns the two tags a heading contributes: its text, and its text
// prefixed with level '#' characters ("## Setup").
func (h Heading) Tags() []string {
	if h.Text == "" {
		return nil
	}
	return []string{h.Text, strings.Repeat("#", h.Level) + " " + h.Text}
}

// HeadingTracker keeps the path of headings from the document root to the
// current section. Levels along the path are strictly increasing.
type HeadingTracker struct {
	active []Heading
}

// Observe records a heading, dropping every active entry at the same or a
// deeper level first.
func (t *HeadingTracker) Observe(level int, text string) {
	keep := t.active[:0]
	for _, h := range t.active {
		if h.Level < level {
			keep = append(keep, h)
		}
	}
	t.active = append(keep, Heading{Level: level, Text: text})
}

// Snapshot returns a copy of the active path.
func (t *HeadingTracker) Snapshot() []Heading {
	return slices.Clone(t.active)
}

// Reset clears the active path.
func (t *HeadingTracker) Reset() {
	t.active = nil
}
