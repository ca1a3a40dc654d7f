// Package watcher re-ingests the corpus when files below it change.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

const DefaultDebounce = 2 * time.Second

// Watcher collects change events for supported documents below Root and
// calls OnChange once the corpus has been quiet for Debounce.
type Watcher struct {
	Root     string
	Debounce time.Duration
	OnChange func(ctx context.Context, changed []string)

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

func New(root string, debounce time.Duration, onChange func(ctx context.Context, changed []string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		Root:     root,
		Debounce: debounce,
		OnChange: onChange,
		watcher:  w,
		pending:  make(map[string]struct{}),
	}, nil
}

// Run watches until ctx is done. fsnotify is not recursive, so every
// directory is added on its own, including ones created later.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addTree(w.Root); err != nil {
		return err
	}
	logger.Info("Watching corpus for changes", "root", w.Root, "debounce", w.Debounce)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Corpus watcher error", "err", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if hidden(w.Root, event.Name) {
		return
	}
	if event.Has(fsnotify.Create) {
		if err := w.addTree(event.Name); err == nil && isDir(event.Name) {
			w.schedule(ctx, event.Name)
			return
		}
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if _, ok := loader.DetectType(event.Name); !ok {
		return
	}
	w.schedule(ctx, event.Name)
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.Debounce, func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	clear(w.pending)
	w.mu.Unlock()

	if len(changed) == 0 || ctx.Err() != nil {
		return
	}
	logger.Info("Corpus changed", "files", len(changed))
	w.OnChange(ctx, changed)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.Root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
