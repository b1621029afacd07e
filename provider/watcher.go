package provider

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"go-repack/log"
)

// DefaultDebounce is how long the watcher waits for writes to settle
const DefaultDebounce = 500 * time.Millisecond

// ErrAlreadyStarted is returned by Start on a running watcher
var ErrAlreadyStarted = errors.New("watcher already started")

// Reloader is reloaded when the watched file changes
type Reloader interface {
	Reload(ctx context.Context) error
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger
func WithLogger(l log.LibraryLogger) WatcherOption {
	return func(w *Watcher) { w.logger = log.OrNoOp(l) }
}

// WithOnReload sets a callback invoked after every triggered reload
func WithOnReload(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// Watcher reloads its targets when a file changes. dpkg replaces the status
// file atomically, so the parent directory is watched and events are
// matched by name.
type Watcher struct {
	path     string
	targets  []Reloader
	debounce time.Duration
	logger   log.LibraryLogger
	onReload func(error)

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timer   *time.Timer
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewWatcher creates a watcher for path reloading targets on change
func NewWatcher(path string, targets []Reloader, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		targets:  targets,
		debounce: DefaultDebounce,
		logger:   log.NoOpLogger{},
		onReload: func(error) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.fsw = fsw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.started = true

	go w.loop(ctx, fsw, w.done)
	w.logger.Debug("Watching %s", w.path)
	return nil
}

// Stop stops watching and cancels a pending reload
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.cancel()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.mu.Unlock()

	fsw.Close()
	<-done
}

// Path returns the watched file
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	target := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.trigger(ctx)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error on %s: %v", w.path, err)
		}
	}
}

// trigger (re)arms the debounce timer
func (w *Watcher) trigger(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.logger.Info("%s changed, reloading", w.path)

	var errs []error
	for _, t := range w.targets {
		if err := t.Reload(ctx); err != nil {
			w.logger.Error("Reload after %s change failed: %v", w.path, err)
			errs = append(errs, err)
		}
	}
	w.onReload(errors.Join(errs...))
}
