// Package service provides reusable business logic for repack operations.
//
// The service layer sits between the CLI (cmd) and library packages (engine,
// build, builddb, provider, etc.), providing a clean separation of concerns:
//
//   - CLI layer (cmd/): handles user interaction, formatting, arg parsing
//   - Service layer (service/): wires the components and runs operations
//   - Library layer (engine, build, etc.): core functionality with no I/O coupling
//
// All service methods log through the sink, so they can be used from any
// context without terminal coupling.
package service

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"go-repack/build"
	"go-repack/builddb"
	"go-repack/config"
	"go-repack/dpkg"
	"go-repack/engine"
	"go-repack/log"
	"go-repack/progress"
	"go-repack/provider"
)

// dbLockWait bounds how long NewService waits for another process to
// release the database.
const dbLockWait = 10 * time.Second

// ErrClosed is returned by Rebuild once Close has started
var ErrClosed = errors.New("service is closed")

// Options adjusts how a Service is wired
type Options struct {
	// Native replaces the dpkg engine (tests use engine.MockNative)
	Native engine.Native

	// Console receives log lines at the configured level when set
	Console io.Writer
}

// Service coordinates the repack subsystems.
//
// It owns the shared resources (log files, sink, database, engine handle)
// and exposes high-level operations for listing, rebuilding and cache
// maintenance.
//
// Usage:
//
//	cfg, _ := config.LoadConfig("", "default")
//	svc, err := service.NewService(cfg, service.Options{Console: os.Stderr})
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	result, err := svc.Rebuild(ctx, []string{"vim"}, service.RebuildOptions{})
type Service struct {
	cfg    *config.Config
	logger *log.Logger
	sink   *log.Sink
	db     *builddb.DB

	native   engine.Native
	handle   *engine.Handle
	notifier *progress.Notifier
	orch     *build.Orchestrator

	installed *provider.DataProvider
	cached    *provider.DataProvider
	watcher   *provider.Watcher

	// Rebuild calls in progress, including sessions whose caller stopped
	// waiting; Close waits for them before releasing anything.
	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewService creates a new Service with the given configuration.
//
// It opens the log files, the database (waiting while another process
// holds it) and the native engine. The caller is responsible for calling
// Close() to release resources (typically via defer).
func NewService(cfg *config.Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prefs, err := compression(cfg)
	if err != nil {
		return nil, err
	}

	logger, err := log.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	level, ok := log.ParseSeverity(cfg.LogLevel)
	if !ok {
		level = log.SeverityInfo
	}
	if cfg.Debug {
		level = log.SeverityDebug
	}
	sink := log.NewSink(log.SeverityDebug)
	sink.Register(log.NewFileSubscriber(logger))
	if opts.Console != nil {
		sink.Register(log.NewConsoleSubscriber(opts.Console, level))
	}

	s := &Service{
		cfg:    cfg,
		logger: logger,
		sink:   sink,
	}

	s.db, err = builddb.OpenWithRetry(cfg.Database.Path, dbLockWait)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open package cache: %w", err)
	}

	s.native = opts.Native
	if s.native == nil {
		d, err := dpkg.Open(dpkg.Options{
			AdminDir: cfg.AdminDir,
			RootDir:  cfg.RootDir,
			Workers:  cfg.MaxWorkers,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open package index: %w", err)
		}
		s.native = d
	}

	s.handle = engine.Open(s.native, sink.WithSource("engine"))
	s.notifier = progress.NewNotifier(sink.WithSource("progress"))
	s.orch = build.New(s.handle, s.notifier, build.Options{
		OutputDir:      cfg.OutputPath,
		Compression:    prefs,
		Store:          s.db,
		Runs:           s.db,
		Results:        logger,
		SessionLogs:    cfg,
		PersistTimeout: time.Minute,
		Logger:         sink.WithSource("rebuild"),
	})

	s.installed = provider.New(&provider.InstalledSource{Parser: s.handle, OnlyLeaves: cfg.OnlyLeaves}, sink.WithSource("installed"))
	s.cached = provider.New(&provider.CachedSource{Fetcher: s.db}, sink.WithSource("cache"))
	s.orch.Changes().Register(s.cached)

	if cfg.WatchStatus {
		s.watcher = provider.NewWatcher(filepath.Join(cfg.AdminDir, "status"),
			[]provider.Reloader{s.installed},
			provider.WithLogger(sink.WithSource("watcher")))
		if err := s.watcher.Start(); err != nil {
			sink.Warn("Not watching %s: %v", s.watcher.Path(), err)
			s.watcher = nil
		}
	}

	return s, nil
}

func compression(cfg *config.Config) (engine.Compression, error) {
	if cfg.CompressionLevel < 0 {
		return engine.ParseCompression(cfg.Compression)
	}
	return engine.ParseCompression(fmt.Sprintf("%s:%d", cfg.Compression, cfg.CompressionLevel))
}

// Close releases everything in reverse order of creation. Rebuild calls in
// progress, and sessions a caller stopped waiting for, are waited for
// first. It is safe to call Close twice.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.inflight.Wait()

		if s.watcher != nil {
			s.watcher.Stop()
		}
		if s.orch != nil {
			s.orch.Close()
		}
		if s.handle != nil {
			if err := s.handle.Close(); err != nil {
				errs = append(errs, fmt.Errorf("engine close: %w", err))
			}
		}
		// A session whose engine call just returned persists from here
		if s.notifier != nil {
			s.notifier.Wait()
			s.notifier.Close()
		}
		if s.orch != nil {
			s.orch.Changes().Wait()
		}
		if s.installed != nil {
			s.installed.Close()
		}
		if s.cached != nil {
			s.cached.Close()
		}
		if s.db != nil {
			if err := s.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("database close: %w", err))
			}
		}
		if s.sink != nil {
			s.sink.Close()
		}
		if s.logger != nil {
			s.logger.Close()
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// enter registers a Rebuild call; it fails once Close has started
func (s *Service) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Config returns the service's configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Sink returns the log sink; register views on it to follow log lines.
func (s *Service) Sink() *log.Sink {
	return s.sink
}

// Database returns the package cache.
func (s *Service) Database() *builddb.DB {
	return s.db
}

// Orchestrator returns the rebuild orchestrator.
func (s *Service) Orchestrator() *build.Orchestrator {
	return s.orch
}
