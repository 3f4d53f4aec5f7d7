// Package watch reports changes to the extension source files esbuild does
// not track itself: the manifest, stylesheets and other static files.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/utils/clock"
)

// DefaultDebounce is how long the watcher waits for a burst of changes to
// settle before reporting them.
const DefaultDebounce = 200 * time.Millisecond

// scriptExts are watched by esbuild.
var scriptExts = map[string]bool{
	".js": true, ".mjs": true, ".jsx": true, ".ts": true, ".tsx": true,
}

// ChangeFunc receives the sorted set of changed paths of one burst.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher watches a source tree.
type Watcher struct {
	dir      string
	onChange ChangeFunc
	debounce time.Duration
	filter   func(path string) bool
	ignore   []string
	clock    clock.WithDelayedExecution
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	pending map[string]bool
	timer   clock.Timer
	done    chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the settle delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFilter replaces the default filter, which accepts every file that is
// not a script, an editor backup or hidden.
func WithFilter(f func(path string) bool) Option {
	return func(w *Watcher) {
		w.filter = f
	}
}

// WithIgnore skips the given directories, e.g. an output directory inside
// the source tree.
func WithIgnore(dirs ...string) Option {
	return func(w *Watcher) {
		for _, d := range dirs {
			if abs, err := filepath.Abs(d); err == nil {
				w.ignore = append(w.ignore, abs)
			}
		}
	}
}

// WithClock sets the clock driving the debounce timer.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

// WithLogger injects a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New creates a watcher over dir calling onChange after each burst.
func New(dir string, onChange ChangeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		onChange: onChange,
		debounce: DefaultDebounce,
		filter:   DefaultFilter,
		clock:    clock.RealClock{},
		logger:   slog.Default(),
		pending:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// DefaultFilter accepts non-script files that are neither hidden nor
// editor backups.
func DefaultFilter(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return false
	}
	return !scriptExts[strings.ToLower(filepath.Ext(base))]
}

// Start begins watching the tree under dir, subdirectories included.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
	if err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.mu.Lock()
	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	loopCtx, done := w.ctx, w.done
	w.mu.Unlock()

	w.logger.Info("watching source files", "path", w.dir)
	go w.loop(loopCtx, fw, done)
	return nil
}

// Stop ends watching and drops pending changes.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw, done := w.watcher, w.done
	w.watcher = nil
	if w.cancel != nil {
		w.cancel()
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	if fw == nil {
		return
	}
	fw.Close()
	<-done
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}
	if event.Op == fsnotify.Chmod || !w.filter(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.clock.AfterFunc(w.debounce, w.flush)
}

// flush reports the pending burst.
func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 || w.ctx == nil || w.ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	w.timer = nil
	ctx := w.ctx
	w.mu.Unlock()

	sort.Strings(paths)
	w.logger.Info("source files changed", "files", len(paths))
	w.onChange(ctx, paths)
}

func (w *Watcher) ignored(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range w.ignore {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
