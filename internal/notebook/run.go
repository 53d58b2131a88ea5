package notebook

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/nbtag/internal/kernel"
)

// Blacklist selects the tags RunAll excludes. The zero value is the
// notebook's static blacklist: SkipTag plus the tags given to WithBlacklist.
type Blacklist struct {
	disabled bool
	extra    []string
}

// Exclude returns a blacklist that adds tags to the static blacklist.
func Exclude(tags ...string) Blacklist {
	return Blacklist{extra: tags}
}

// NoBlacklist returns a blacklist that excludes nothing, SkipTag included.
func NoBlacklist() Blacklist {
	return Blacklist{disabled: true}
}

func (nb *Notebook) exclusion(bl Blacklist) map[string]struct{} {
	if bl.disabled {
		return nil
	}
	set := make(map[string]struct{}, len(nb.blacklist)+len(bl.extra))
	for _, t := range nb.blacklist {
		set[t] = struct{}{}
	}
	for _, t := range bl.extra {
		set[t] = struct{}{}
	}
	return set
}

// selection is the outcome of a tag-seeking selection. found is false when
// no block carries the tag; blocks may be empty even when found is true.
type selection struct {
	blocks []Block
	found  bool
}

// RunAll runs, in document order, every block with no tag in the exclusion
// set chosen by bl.
func (nb *Notebook) RunAll(ctx context.Context, bl Blacklist) error {
	excluded := nb.exclusion(bl)
	var blocks []Block
	for _, b := range nb.blocks {
		if b.Tags.intersects(excluded) {
			continue
		}
		blocks = append(blocks, b)
	}
	return nb.runBlocks(ctx, blocks)
}

// RunTag runs every block tagged tag, in document order.
func (nb *Notebook) RunTag(ctx context.Context, tag string, strict bool) error {
	return nb.runSelection(ctx, tag, strict, nb.selectTag(tag))
}

// RunBefore runs every block strictly before the first block tagged tag.
func (nb *Notebook) RunBefore(ctx context.Context, tag string, strict bool) error {
	return nb.runSelection(ctx, tag, strict, nb.selectBefore(tag))
}

// RunAfter runs every block strictly after the last block tagged tag.
func (nb *Notebook) RunAfter(ctx context.Context, tag string, strict bool) error {
	return nb.runSelection(ctx, tag, strict, nb.selectAfter(tag))
}

func (nb *Notebook) selectTag(tag string) selection {
	var sel selection
	for _, b := range nb.blocks {
		if b.Tags.Has(tag) {
			sel.blocks = append(sel.blocks, b)
			sel.found = true
		}
	}
	return sel
}

func (nb *Notebook) selectBefore(tag string) selection {
	for i, b := range nb.blocks {
		if b.Tags.Has(tag) {
			return selection{blocks: nb.blocks[:i:i], found: true}
		}
	}
	return selection{}
}

func (nb *Notebook) selectAfter(tag string) selection {
	for i := len(nb.blocks) - 1; i >= 0; i-- {
		if nb.blocks[i].Tags.Has(tag) {
			return selection{blocks: nb.blocks[i+1:], found: true}
		}
	}
	return selection{}
}

func (nb *Notebook) runSelection(ctx context.Context, tag string, strict bool, sel selection) error {
	if !sel.found {
		if strict {
			return &TagNotFoundError{Tag: tag}
		}
		return nil
	}
	return nb.runBlocks(ctx, sel.blocks)
}

// runBlocks executes blocks in order inside the run directory and restores
// the previous working directory afterwards. The first failure stops the
// batch; namespace changes of the blocks already run are kept.
func (nb *Notebook) runBlocks(ctx context.Context, blocks []Block) (err error) {
	if len(blocks) == 0 {
		return nil
	}
	if nb.renderer == nil {
		for _, b := range blocks {
			if b.Kind == KindMarkdown {
				return &UnsupportedOperationError{Op: "run", Reason: "no renderer for markdown blocks"}
			}
		}
	}

	prev, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("notebook: getwd: %w", err)
	}
	if err := os.Chdir(nb.runDir); err != nil {
		return fmt.Errorf("notebook: chdir %s: %w", nb.runDir, err)
	}
	defer func() {
		if cerr := os.Chdir(prev); cerr != nil && err == nil {
			err = fmt.Errorf("notebook: restore working directory: %w", cerr)
		}
	}()

	for _, b := range blocks {
		if b.Kind == KindMarkdown {
			if err := nb.renderer.Render(b.Source); err != nil {
				return fmt.Errorf("notebook: render cell %d: %w", b.Position, err)
			}
			continue
		}
		src := kernel.Source{Name: kernel.CellName(b.Position), Text: b.Source}
		if err := nb.host.Execute(ctx, src, nb.ns); err != nil {
			return err
		}
	}
	nb.logger.Debug("notebook: ran blocks",
		slog.String("path", nb.path),
		slog.Int("count", len(blocks)))
	return nil
}
