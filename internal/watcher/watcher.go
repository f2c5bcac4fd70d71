// Package watcher triggers indexing runs when the working tree changes. All
// events collapse through one tree-level debounce timer: an editor's save
// burst becomes a single run, and the run itself works out per file what
// actually moved.
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
)

const defaultDebounce = 500 * time.Millisecond

// Watcher watches one tree root recursively and invokes onSync after changes
// settle. Hidden directories and the collection directory are never watched,
// so indexing runs do not retrigger themselves.
type Watcher struct {
	root       string
	extensions []string
	ignoreDirs []string
	onSync     func()
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides how long events must settle before onSync fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over root. extensions filters which files count as
// changes (empty = all); ignoreDirs are directories to skip entirely, given
// absolute or root-relative. onSync runs after the debounce window closes.
func New(root string, extensions []string, ignoreDirs []string, onSync func(), opts ...Option) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(root),
		extensions: extensions,
		onSync:     onSync,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		done:       make(chan struct{}),
	}
	for _, dir := range ignoreDirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(w.root, dir)
		}
		w.ignoreDirs = append(w.ignoreDirs, filepath.Clean(dir))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers the tree and begins dispatching. It runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		w.Stop()
		return err
	}
	w.logger.Debug("watcher started",
		zap.String("root", w.root),
		zap.Strings("extensions", w.extensions),
		zap.Duration("debounce", w.debounce))
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if w.skip(path) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// A new directory may already contain files; watch it and let the
			// next run pick everything up.
			if err := w.addTree(path); err != nil {
				w.logger.Debug("watcher failed to add directory",
					zap.String("path", path), zap.Error(err))
			}
			w.schedule()
			return
		}
	}
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		// The path is gone, so a directory cannot be told apart from a file
		// that never matched. An extra run on a clean tree is a cheap no-op.
		w.logger.Debug("watcher event",
			zap.String("op", ev.Op.String()), zap.String("path", path))
		w.schedule()
		return
	}
	if !w.matchExtension(path) {
		return
	}
	if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
		w.logger.Debug("watcher event",
			zap.String("op", ev.Op.String()), zap.String("path", path))
		w.schedule()
	}
}

// schedule arms the tree-level debounce timer, restarting it if it is already
// running.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Debug("watcher sync triggered")
		if w.onSync != nil {
			w.onSync()
		}
	})
}

// addTree watches dir and every directory under it that is not skipped.
func (w *Watcher) addTree(dir string) error {
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Trees mutate while being walked; a vanished entry is not fatal.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skip(path) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			w.logger.Debug("watcher failed to add directory",
				zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

// skip reports whether path sits in a hidden directory or an ignored one. The
// collection directory must be ignored or its own writes would retrigger runs
// forever.
func (w *Watcher) skip(path string) bool {
	for _, dir := range w.ignoreDirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	if strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if len(part) > 1 && part[0] == '.' {
			return true
		}
	}
	return false
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.extensions {
		a := strings.ToLower(allowed)
		if !strings.HasPrefix(a, ".") {
			a = "." + a
		}
		if a == ext {
			return true
		}
	}
	return false
}

// Stop halts dispatching, cancels a pending sync, and releases the underlying
// watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.watcher != nil {
		_ = w.watcher.Close()
		w.watcher = nil
	}
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
