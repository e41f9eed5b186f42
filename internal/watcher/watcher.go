// Package watcher turns a directory tree into a unit source: every file
// matching the include globs is a unit keyed by its slash-separated path
// relative to the root, created and updated on write and retracted on
// removal.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// ApplyFunc receives a unit's new content, or nil when the file is gone.
type ApplyFunc func(ctx context.Context, path string, content *string) error

type Options struct {
	// Include globs are matched against the relative path. Empty matches
	// every file.
	Include []string
	// Debounce is how long a file must be quiet before it is re-read.
	Debounce time.Duration
}

type Watcher struct {
	root     string
	include  []string
	debounce time.Duration
	apply    ApplyFunc
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string]struct{}
}

func New(root string, apply ApplyFunc, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", abs)
	}
	for _, p := range opts.Include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	return &Watcher{
		root:     abs,
		include:  opts.Include,
		debounce: opts.Debounce,
		apply:    apply,
		logger:   slog.Default().With("component", "watcher", "root", abs),
		known:    make(map[string]struct{}),
	}, nil
}

// ForEach calls fn with the content of every matching file under the root.
// Files that cannot be read are logged and skipped.
func (w *Watcher) ForEach(ctx context.Context, fn func(path string, content *string) error) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("walk failed", "path", path, "error", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, ok := w.unitPath(path)
		if !ok {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn("read failed", "path", rel, "error", err)
			return nil
		}
		content := string(data)
		w.track(rel, true)
		return fn(rel, &content)
	})
}

// Scan applies every matching file once.
func (w *Watcher) Scan(ctx context.Context) error {
	n := 0
	err := w.ForEach(ctx, func(path string, content *string) error {
		n++
		return w.applyUnit(ctx, path, content)
	})
	w.logger.Info("initial scan complete", "units", n)
	return err
}

// Run watches the tree until ctx is cancelled, applying quiet files after
// the debounce interval.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	if err := w.addRecursive(fsw, w.root, nil); err != nil {
		return err
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(max(w.debounce/2, time.Millisecond))
	defer ticker.Stop()

	w.logger.Info("watching")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fsw, event.Name, pending); err != nil {
						w.logger.Warn("watching new directory failed", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)

		case now := <-ticker.C:
			for path, changed := range pending {
				if now.Sub(changed) < w.debounce {
					continue
				}
				delete(pending, path)
				w.refresh(ctx, path)
			}
		}
	}
}

// addRecursive watches dir and its subdirectories. When pending is non-nil
// files already present are queued, since they may predate the watch.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string, pending map[string]time.Time) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
			return nil
		}
		if pending != nil {
			pending[path] = time.Time{}
		}
		return nil
	})
}

func (w *Watcher) refresh(ctx context.Context, path string) {
	rel, ok := w.relPath(path)
	if !ok {
		return
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		w.retract(ctx, rel)
		return
	case err != nil:
		w.logger.Warn("stat failed", "path", rel, "error", err)
		return
	case info.IsDir():
		return
	}
	if !w.included(rel) {
		return
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		w.retract(ctx, rel)
		return
	}
	if err != nil {
		w.logger.Warn("read failed", "path", rel, "error", err)
		return
	}
	content := string(data)
	if err := w.applyUnit(ctx, rel, &content); err != nil {
		w.logger.Error("applying change failed", "path", rel, "error", err)
		return
	}
	w.logger.Debug("unit refreshed", "path", rel)
}

// retract removes the unit at rel and, when rel was a directory that has
// been moved or deleted, every unit below it.
func (w *Watcher) retract(ctx context.Context, rel string) {
	var units []string
	if w.included(rel) {
		units = append(units, rel)
	}
	units = append(units, w.knownUnder(rel)...)
	for _, unit := range units {
		if err := w.applyUnit(ctx, unit, nil); err != nil {
			w.logger.Error("retracting unit failed", "path", unit, "error", err)
			continue
		}
		w.logger.Debug("unit retracted", "path", unit)
	}
}

func (w *Watcher) applyUnit(ctx context.Context, rel string, content *string) error {
	if err := w.apply(ctx, rel, content); err != nil {
		return err
	}
	w.track(rel, content != nil)
	return nil
}

func (w *Watcher) track(rel string, present bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if present {
		w.known[rel] = struct{}{}
	} else {
		delete(w.known, rel)
	}
}

func (w *Watcher) knownUnder(dir string) []string {
	prefix := dir + "/"
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for unit := range w.known {
		if strings.HasPrefix(unit, prefix) {
			out = append(out, unit)
		}
	}
	slices.Sort(out)
	return out
}

// unitPath maps an absolute file path to its unit path, reporting false when
// the file is outside the root or not included.
func (w *Watcher) unitPath(path string) (string, bool) {
	rel, ok := w.relPath(path)
	if !ok || !w.included(rel) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) relPath(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (w *Watcher) included(rel string) bool {
	if len(w.include) == 0 {
		return true
	}
	for _, pattern := range w.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
