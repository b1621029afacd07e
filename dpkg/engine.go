package dpkg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"go-repack/engine"
	"go-repack/log"
)

// StatusFileName is the package database inside the admin directory
const StatusFileName = "status"

// Options configures an Engine
type Options struct {
	AdminDir string // e.g. /var/lib/dpkg
	RootDir  string // filesystem root the listed files are read from
	Workers  int    // concurrent archive writers; 0 means NumCPU
}

// Engine implements engine.Native for a dpkg admin directory
type Engine struct {
	opts Options

	mu        sync.Mutex
	callbacks engine.Callbacks
	logFn     engine.LogFunc

	live     atomic.Int64
	released atomic.Bool
}

var _ engine.Native = (*Engine)(nil)

// Open validates the admin directory and returns an engine for it
func Open(opts Options) (*Engine, error) {
	if opts.AdminDir == "" {
		return nil, errors.New("dpkg admin directory not set")
	}
	fi, err := os.Stat(opts.AdminDir)
	if err != nil {
		return nil, fmt.Errorf("dpkg admin directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("dpkg admin directory %s is not a directory", opts.AdminDir)
	}
	if opts.RootDir == "" {
		opts.RootDir = "/"
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Engine{opts: opts}, nil
}

// StatusPath returns the path of the status database
func (e *Engine) StatusPath() string {
	return filepath.Join(e.opts.AdminDir, StatusFileName)
}

// entry is the raw package handed across the native boundary
type entry struct {
	owner    *Engine
	stanza   *Stanza
	released atomic.Bool
}

func (e *Engine) newEntry(s *Stanza) *entry {
	e.live.Add(1)
	return &entry{owner: e, stanza: s}
}

func (en *entry) Field(name string) (string, bool) {
	if en.released.Load() {
		return "", false
	}
	return en.stanza.Get(name)
}

func (en *entry) Release() {
	if en.released.CompareAndSwap(false, true) {
		en.owner.live.Add(-1)
	}
}

// Live returns the number of entries handed out and not yet released
func (e *Engine) Live() int64 {
	return e.live.Load()
}

func (e *Engine) logf(sev log.Severity, format string, args ...any) {
	e.mu.Lock()
	fn := e.logFn
	e.mu.Unlock()
	if fn != nil {
		fn(sev, fmt.Sprintf(format, args...))
	}
}

// ParseIndex implements engine.Native
func (e *Engine) ParseIndex(onlyLeaves bool) ([]engine.RawPackage, error) {
	f, err := os.Open(e.StatusPath())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stanzas, err := ParseStatus(f)
	if err != nil {
		return nil, err
	}

	installed := stanzas[:0]
	for _, s := range stanzas {
		if s.Installed() {
			installed = append(installed, s)
		}
	}
	e.logf(log.SeverityDebug, "%s: %d stanzas, %d installed", e.StatusPath(), len(stanzas), len(installed))

	if onlyLeaves {
		installed = leaves(installed)
	}

	raws := make([]engine.RawPackage, 0, len(installed))
	for _, s := range installed {
		raws = append(raws, e.newEntry(s))
	}
	return raws, nil
}

// Rebuild implements engine.Native. Items are written concurrently, at most
// Workers at a time; callbacks fire from the worker goroutines.
func (e *Engine) Rebuild(token engine.Token, items []engine.RawPackage, outDir string, prefs engine.Compression) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	e.mu.Lock()
	cb := e.callbacks
	e.mu.Unlock()

	e.logf(log.SeverityInfo, "Rebuilding %d packages into %s (%s, %d workers)", len(items), outDir, prefs, e.opts.Workers)

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)

	for _, item := range items {
		item := item
		g.Go(func() error {
			src, ok := item.(*entry)
			if !ok || src.owner != e {
				e.logf(log.SeverityError, "foreign package entry passed to rebuild")
				return nil
			}
			stanza := src.stanza

			if cb.ItemStarted != nil {
				cb.ItemStarted(token, e.newEntry(stanza))
			}

			output, err := e.writeArchive(stanza, outDir, prefs)
			failure := ""
			if err != nil {
				failure = err.Error()
				e.logf(log.SeverityWarning, "%s: %v", stanza.Value("Package"), err)
			}

			if cb.ItemFinished != nil {
				cb.ItemFinished(token, e.newEntry(stanza), output, failure)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if cb.BatchFinished != nil {
		cb.BatchFinished(token)
	}
	return nil
}

// SetCallbacks implements engine.Native
func (e *Engine) SetCallbacks(cb engine.Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = cb
}

// SetLogger implements engine.Native
func (e *Engine) SetLogger(fn engine.LogFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logFn = fn
}

// Release implements engine.Native
func (e *Engine) Release() {
	if e.released.CompareAndSwap(false, true) {
		e.logf(log.SeverityDebug, "dpkg engine released (%d entries still live)", e.Live())
	}
}
