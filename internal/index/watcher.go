package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/nbtag/internal/checksum"
	"github.com/starford/nbtag/internal/nbformat"
	"github.com/starford/nbtag/internal/storage"
)

// Change kinds reported to an EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a watcher-driven index change with one of
// EventCreated, EventUpdated or EventDeleted.
type EventCallback func(kind string, path string)

// Debounce intervals. Editors and Jupyter save in bursts (truncate, write,
// chmod), so writes to a path are indexed once the path has been quiet for
// settleDelay. Renames are reconciled after reconcileDelay.
const (
	settleDelay    = 100 * time.Millisecond
	reconcileDelay = 200 * time.Millisecond
)

type watcher struct {
	db     *DB
	store  storage.Provider
	root   string
	logger *slog.Logger
	cb     EventCallback

	// pending holds relative paths written since the last flush.
	pending map[string]struct{}
}

// Watch starts an fsnotify watcher on the workspace root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after
// each index mutation that changed a notebook.
//
// New directories created at runtime are added to the watch list. Rename
// events trigger a reconciliation pass that removes stale index entries
// whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, root string, logger *slog.Logger, cb EventCallback) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}

	w := &watcher{
		db:      db,
		store:   store,
		root:    root,
		logger:  logger,
		cb:      cb,
		pending: make(map[string]struct{}),
	}
	logger.Info("watcher: started", slog.String("root", root))

	settle := newDebounce(settleDelay)
	reconcile := newDebounce(reconcileDelay)
	defer settle.stop()
	defer reconcile.stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case <-settle.C():
			w.flush()

		case <-reconcile.C():
			w.reconcile()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					w.watchNewDir(fw, ev.Name)
					continue
				}
			}

			rel, ok := w.notebookPath(ev.Name)
			if !ok {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.pending[rel] = struct{}{}
				settle.reset()

			case ev.Op&fsnotify.Remove != 0:
				delete(w.pending, rel)
				w.remove(rel)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports Rename on the old path only; the new path
				// arrives as a Create when it stays inside a watched dir.
				delete(w.pending, rel)
				w.remove(rel)
				reconcile.reset()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// notebookPath maps an absolute event path to a workspace-relative slash
// path, rejecting unsupported files and hidden directories.
func (w *watcher) notebookPath(abs string) (string, bool) {
	if !nbformat.Supported(abs) {
		return "", false
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || hiddenPath(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *watcher) notify(kind, rel string) {
	w.logger.Debug("watcher: "+kind, slog.String("path", rel))
	if w.cb != nil {
		w.cb(kind, rel)
	}
}

// flush indexes every pending path.
func (w *watcher) flush() {
	for rel := range w.pending {
		delete(w.pending, rel)
		w.index(rel)
	}
}

// index re-indexes rel when its content changed and reports whether it was
// created or updated.
func (w *watcher) index(rel string) {
	data, err := w.store.Read(rel)
	if err != nil {
		// Removed again before the write settled.
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		return
	}
	prev, _ := w.db.GetChecksum(rel)
	if prev == checksum.Sum(data) {
		return
	}
	if err := IndexFile(w.db, rel, data); err != nil {
		w.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	kind := EventUpdated
	if prev == "" {
		kind = EventCreated
	}
	w.notify(kind, rel)
}

func (w *watcher) remove(rel string) {
	if cs, _ := w.db.GetChecksum(rel); cs == "" {
		return
	}
	if err := w.db.DeleteNotebook(rel); err != nil {
		w.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	w.notify(EventDeleted, rel)
}

// reconcile removes index entries without a file on disk and indexes
// files the index is missing or has stale.
func (w *watcher) reconcile() {
	checksums, err := w.db.AllChecksums()
	if err != nil {
		w.logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}
	metas, err := w.store.List("")
	if err != nil {
		w.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			w.remove(p)
		}
	}
	for p, cs := range disk {
		if checksums[p] != cs {
			w.index(p)
		}
	}
}

// watchNewDir adds a directory created at runtime to the watch list and
// indexes the notebooks already in it.
func (w *watcher) watchNewDir(fw *fsnotify.Watcher, dir string) {
	if rel, _ := filepath.Rel(w.root, dir); hiddenPath(rel) {
		return
	}
	if err := addDirsRecursive(fw, dir); err != nil {
		w.logger.Warn("watcher: add new dir failed", slog.String("path", dir), slog.String("error", err.Error()))
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.notebookPath(path); ok {
			w.index(rel)
		}
		return nil
	})
}

// debounce is a resettable one-shot timer whose channel is nil until the
// first reset.
type debounce struct {
	d     time.Duration
	timer *time.Timer
}

func newDebounce(d time.Duration) *debounce { return &debounce{d: d} }

func (b *debounce) reset() {
	if b.timer == nil {
		b.timer = time.NewTimer(b.d)
		return
	}
	b.timer.Reset(b.d)
}

func (b *debounce) C() <-chan time.Time {
	if b.timer == nil {
		return nil
	}
	return b.timer.C
}

func (b *debounce) stop() {
	if b.timer != nil {
		b.timer.Stop()
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// hiddenPath reports whether any element of rel starts with a dot, such as
// the ".ipynb_checkpoints" copies Jupyter writes next to notebooks.
func hiddenPath(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}
