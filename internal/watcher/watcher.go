// Package watcher reports file changes under a directory tree using fsnotify.
// Paths with a hidden component below the root are ignored.
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
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/fileid"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher watches a root directory recursively and calls onChange, debounced
// per path, for every matching create, write, remove or rename.
type Watcher struct {
	root       string
	extensions []string
	onChange   func(path string)
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	watched  map[string]struct{} // directories added to the fsnotify watcher
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a path must stay quiet before onChange fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over root. extensions filter which files are
// reported (empty = all); directories are always reported.
func NewWatcher(root string, extensions []string, onChange func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(root),
		extensions: extensions,
		onChange:   onChange,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		watched:    make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates root if needed and begins watching. It runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	if err := w.addTreeLocked(w.root); err != nil {
		_ = fsw.Close()
		w.watcher = nil
		return err
	}
	w.started = true
	w.logger.Debug("watcher starting",
		zap.String("root", w.root),
		zap.Strings("extensions", w.extensions),
		zap.Int("directories", len(w.watched)))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	id, err := fileid.FromPath(w.root, path)
	if err != nil || fileid.Hidden(id) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if matchExtension(path, w.extensions) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if w.forgetDirectory(path) || matchExtension(path, w.extensions) {
			w.schedule(path)
		}
	}
}

// handleNewDirectory watches a directory created or moved into the tree.
// Files already inside it were never seen as events, so the directory itself
// is reported.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if err := w.addTreeLocked(dir); err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.mu.Unlock()
	w.schedule(dir)
}

// addTreeLocked adds dir and its non-hidden subdirectories to the watcher.
func (w *Watcher) addTreeLocked(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if _, ok := w.watched[path]; ok {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.watched[path] = struct{}{}
		return nil
	})
}

// forgetDirectory drops dir and everything below it from the watched set and
// reports whether dir was a watched directory.
func (w *Watcher) forgetDirectory(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watched[dir]
	for p := range w.watched {
		if p == dir || inDir(dir, p) {
			delete(w.watched, p)
		}
	}
	return ok
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		live := w.started
		w.mu.Unlock()
		if live && w.onChange != nil {
			w.logger.Debug("watcher change", zap.String("path", path))
			w.onChange(path)
		}
	})
}

// Root returns the watched root directory.
func (w *Watcher) Root() string { return w.root }

// Directories returns the directories currently watched.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for p := range w.watched {
		out = append(out, p)
	}
	return out
}

// Stop stops the watcher and drops pending notifications.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
