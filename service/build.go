package service

import (
	"context"

	"go-repack/build"
	"go-repack/pkg"
	"go-repack/stats"
)

// Rebuild re-packages the installed packages named by specs
// ("identifier" or "identifier@version") and waits for the session result.
//
// The packages are resolved against a fresh index snapshot owned by the
// session and released when it finishes. When ctx ends first, Rebuild
// returns ctx.Err() while the engine keeps running; the session then
// finishes in the background and is recorded as usual.
//
// The returned error is the session-level error (empty batch, busy,
// catastrophic engine failure, ErrClosed). Per-package failures are in the
// result.
func (s *Service) Rebuild(ctx context.Context, specs []string, opts RebuildOptions) (build.Result, error) {
	if len(specs) == 0 {
		return build.Result{State: s.orch.State(), Err: build.ErrEmptyBatch}, build.ErrEmptyBatch
	}
	if !s.enter() {
		return build.Result{}, ErrClosed
	}
	detached := false
	defer func() {
		if !detached {
			s.inflight.Done()
		}
	}()

	snapshot, err := s.handle.ParsePackages(false)
	if err != nil {
		return build.Result{}, err
	}
	items, err := resolve(snapshot, specs)
	if err != nil {
		pkg.ReleaseAll(snapshot)
		return build.Result{}, err
	}

	collector := stats.NewStatsCollector(context.Background(), len(items))
	s.notifier.Register(collector)
	if opts.UI != nil {
		if err := opts.UI.Start(); err != nil {
			s.sink.Warn("Progress display unavailable: %v", err)
			opts.UI = nil
		} else {
			s.notifier.Register(opts.UI)
			collector.AddConsumer(opts.UI)
		}
	}

	finish := func(r build.Result) {
		// Deliveries for this session are done once the notifier drains
		s.notifier.Wait()
		s.notifier.Unregister(collector)
		collector.Close()
		if r.SessionID != "" {
			stats.NewBuildDBWriter(s.db, r.SessionID, s.sink).OnStatsUpdate(collector.GetSnapshot())
		}
		if opts.UI != nil {
			s.notifier.Unregister(opts.UI)
			opts.UI.ShowResult(r)
			opts.UI.Stop()
		}
		pkg.ReleaseAll(snapshot)
	}

	done := make(chan build.Result, 1)
	s.orch.Rebuild(items, func(r build.Result) { done <- r })

	select {
	case r := <-done:
		finish(r)
		return r, r.Err
	default:
	}

	if id := s.orch.SessionID(); id != "" {
		collector.AddConsumer(stats.NewBuildDBWriter(s.db, id, s.sink))
	}

	select {
	case r := <-done:
		finish(r)
		return r, r.Err
	case <-ctx.Done():
		s.sink.Warn("Stopped waiting for the rebuild: %v (the engine keeps running)", ctx.Err())
		detached = true
		go func() {
			defer s.inflight.Done()
			finish(<-done)
		}()
		return build.Result{State: s.orch.State()}, ctx.Err()
	}
}

// resolve picks the requested packages out of snapshot and releases the
// rest of it.
func resolve(snapshot []*pkg.Package, specs []string) ([]*pkg.Package, error) {
	registry := pkg.NewRegistry()
	for _, p := range snapshot {
		registry.Enter(p)
	}
	items, err := pkg.Resolve(registry, specs)
	if err != nil {
		return nil, err
	}

	selected := make(map[*pkg.Package]bool, len(items))
	for _, p := range items {
		selected[p] = true
	}
	for _, p := range snapshot {
		if !selected[p] {
			p.Release()
		}
	}
	return items, nil
}
