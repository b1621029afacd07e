package provider

import (
	"context"

	"go-repack/pkg"
)

// Parser is the part of engine.Handle an InstalledSource needs
type Parser interface {
	ParsePackages(onlyLeaves bool) ([]*pkg.Package, error)
}

// InstalledSource loads the installed packages from the engine index
type InstalledSource struct {
	Parser     Parser
	OnlyLeaves bool
}

// Name implements Source
func (s *InstalledSource) Name() string {
	if s.OnlyLeaves {
		return "installed (leaves)"
	}
	return "installed"
}

// Load implements Source
func (s *InstalledSource) Load(ctx context.Context) ([]*pkg.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Parser.ParsePackages(s.OnlyLeaves)
}

// Discard releases the native entries of a replaced snapshot
func (s *InstalledSource) Discard(packages []*pkg.Package) {
	pkg.ReleaseAll(packages)
}

// Fetcher is the part of builddb.DB a CachedSource needs
type Fetcher interface {
	FetchCachedPackages(ctx context.Context) ([]*pkg.Package, error)
}

// CachedSource loads previously built archives from the package cache
type CachedSource struct {
	Fetcher Fetcher
}

// Name implements Source
func (s *CachedSource) Name() string { return "cached" }

// Load implements Source
func (s *CachedSource) Load(ctx context.Context) ([]*pkg.Package, error) {
	return s.Fetcher.FetchCachedPackages(ctx)
}

// Discard implements Source. Cached packages own nothing.
func (s *CachedSource) Discard([]*pkg.Package) {}
