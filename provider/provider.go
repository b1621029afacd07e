// Package provider holds the package lists shown to the user: the full
// snapshot loaded from a Source plus an optional filtered view of it.
package provider

import (
	"context"
	"fmt"
	"sync"

	"go-repack/broadcast"
	"go-repack/build"
	"go-repack/log"
	"go-repack/pkg"
)

// Source loads a package snapshot
type Source interface {
	// Name labels the source in logs
	Name() string

	// Load returns a fresh snapshot. The provider owns the result.
	Load(ctx context.Context) ([]*pkg.Package, error)

	// Discard releases a snapshot the provider no longer exposes
	Discard(packages []*pkg.Package)
}

// Compile-time interface check
var _ broadcast.Subscriber[build.DataChanged] = (*DataProvider)(nil)

// DataProvider exposes a package snapshot and its filtered view. One lock
// guards the snapshot, the filter and the filtered view together, so a
// reader never sees a snapshot paired with a view computed from another.
type DataProvider struct {
	broadcast.Identity

	source Source
	logger log.LibraryLogger

	reloadMu sync.Mutex // serializes Load calls

	mu       sync.RWMutex
	all      []*pkg.Package
	filtered []*pkg.Package // nil when no filter is active
	filter   *pkg.Filter
	loaded   bool
}

// New creates a provider over source. Nothing is loaded until Reload.
func New(source Source, logger log.LibraryLogger) *DataProvider {
	return &DataProvider{
		Identity: broadcast.NewIdentity(),
		source:   source,
		logger:   log.OrNoOp(logger),
	}
}

// Packages returns the visible view: the filtered packages when a filter is
// active, every package otherwise.
func (d *DataProvider) Packages() []*pkg.Package {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.filter != nil {
		return append([]*pkg.Package(nil), d.filtered...)
	}
	return append([]*pkg.Package(nil), d.all...)
}

// All returns the unfiltered snapshot
func (d *DataProvider) All() []*pkg.Package {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*pkg.Package(nil), d.all...)
}

// Loaded reports whether a snapshot has been loaded
func (d *DataProvider) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// ApplyFilter recomputes the filtered view with one pass over the snapshot.
// A nil filter clears it.
func (d *DataProvider) ApplyFilter(f *pkg.Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f == nil {
		d.filter = nil
		d.filtered = nil
		return
	}
	copied := pkg.Filter{
		Query:    f.Query,
		Sections: append([]pkg.Section(nil), f.Sections...),
	}
	d.filter = &copied
	d.filtered = copied.Apply(d.all)
}

// ActiveFilter returns the current filter
func (d *DataProvider) ActiveFilter() (pkg.Filter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.filter == nil {
		return pkg.Filter{}, false
	}
	return *d.filter, true
}

// Reload replaces the snapshot and re-applies the active filter. On error
// the previous snapshot stays in place.
func (d *DataProvider) Reload(ctx context.Context) error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	packages, err := d.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload %s packages: %w", d.source.Name(), err)
	}

	d.mu.Lock()
	previous := d.all
	d.all = packages
	if d.filter != nil {
		d.filtered = d.filter.Apply(packages)
	}
	d.loaded = true
	d.mu.Unlock()

	d.source.Discard(previous)
	d.logger.Debug("Reloaded %d %s packages", len(packages), d.source.Name())
	return nil
}

// Lookup resolves "identifier" or "identifier@version" specifications
// against the unfiltered snapshot.
func (d *DataProvider) Lookup(specs []string) ([]*pkg.Package, error) {
	registry := pkg.NewRegistry()
	for _, p := range d.All() {
		registry.Enter(p)
	}
	return pkg.Resolve(registry, specs)
}

// Receive reloads after a rebuild session persisted new archives
func (d *DataProvider) Receive(e build.DataChanged) error {
	d.logger.Debug("Session %s changed %d archives, reloading %s packages", e.SessionID, e.Artifacts, d.source.Name())
	return d.Reload(context.Background())
}

// Close discards the current snapshot
func (d *DataProvider) Close() {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	d.mu.Lock()
	previous := d.all
	d.all, d.filtered = nil, nil
	d.loaded = false
	d.mu.Unlock()

	d.source.Discard(previous)
}
