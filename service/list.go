package service

import (
	"context"

	"go-repack/pkg"
	"go-repack/provider"
)

// ListInstalled returns the installed packages matching filter (nil = all).
// The index is parsed on first use and after the status file changes.
//
// The returned packages stay valid until the installed list is reloaded.
func (s *Service) ListInstalled(ctx context.Context, filter *pkg.Filter) ([]*pkg.Package, error) {
	return list(ctx, s.installed, filter)
}

// ListCached returns the cached archives matching filter (nil = all).
func (s *Service) ListCached(ctx context.Context, filter *pkg.Filter) ([]*pkg.Package, error) {
	return list(ctx, s.cached, filter)
}

// ReloadInstalled re-reads the package index
func (s *Service) ReloadInstalled(ctx context.Context) error {
	return s.installed.Reload(ctx)
}

func list(ctx context.Context, d *provider.DataProvider, filter *pkg.Filter) ([]*pkg.Package, error) {
	if !d.Loaded() {
		if err := d.Reload(ctx); err != nil {
			return nil, err
		}
	}
	d.ApplyFilter(filter)
	return d.Packages(), nil
}
