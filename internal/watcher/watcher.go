// Package watcher reports files that appear in a hot folder once their
// writes have settled.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must go without writes before it is
// reported.
const DefaultSettle = 2 * time.Second

type Watcher interface {
	Watch(ctx context.Context, dir string) error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

// partialSuffixes mark files that are still being written by another tool.
var partialSuffixes = []string{".part", ".tmp", ".crdownload", ".download", "~"}

// FolderWatcher reports settled regular files in one directory. Each file is
// reported once per burst of writes.
type FolderWatcher struct {
	logger *slog.Logger
	settle time.Duration
	exts   map[string]bool

	mu       sync.Mutex
	callback func(path string, event EventType)
	pending  map[string]*time.Timer
}

// NewFolderWatcher creates a watcher. exts limits reported files to those
// extensions (case-insensitive, with the dot); empty accepts every file.
func NewFolderWatcher(settle time.Duration, exts []string, logger *slog.Logger) *FolderWatcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}
	return &FolderWatcher{
		logger:  logger,
		settle:  settle,
		exts:    allowed,
		pending: make(map[string]*time.Timer),
	}
}

func (w *FolderWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = callback
}

// Watch blocks until ctx is done or the watch fails.
func (w *FolderWatcher) Watch(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching folder", "dir", dir, "settle", w.settle)

	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fs watcher error", "error", err)
		}
	}
}

func (w *FolderWatcher) handle(ev fsnotify.Event) {
	if !w.Accept(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.schedule(ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		if t, ok := w.pending[ev.Name]; ok {
			t.Stop()
			delete(w.pending, ev.Name)
		}
		cb := w.callback
		w.mu.Unlock()
		if cb != nil {
			cb(ev.Name, EventDelete)
		}
	}
}

// schedule (re)starts the settle timer for path.
func (w *FolderWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.fire(path) })
}

func (w *FolderWatcher) fire(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	cb := w.callback
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return
	}

	w.logger.Debug("file settled", "path", filepath.Base(path), "size", info.Size())
	if cb != nil {
		cb(path, EventCreate)
	}
}

func (w *FolderWatcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}

// Accept reports whether a file name is eligible for processing.
func (w *FolderWatcher) Accept(path string) bool {
	name := filepath.Base(path)
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	lower := strings.ToLower(name)
	for _, s := range partialSuffixes {
		if strings.HasSuffix(lower, s) {
			return false
		}
	}
	if len(w.exts) == 0 {
		return true
	}
	return w.exts[filepath.Ext(lower)]
}
