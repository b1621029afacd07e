// Package migration adopts .deb archives that exist on disk but are not
// recorded in the package cache, e.g. archives written before the cache
// database was created or restored from a backup of the output directory.
//
// Example usage:
//
//	if needed, _ := migration.DetectImportNeeded(ctx, cfg.OutputPath, db); needed {
//	    result, err := migration.ImportArchives(ctx, cfg.OutputPath, db, logger)
//	    ...
//	}
package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go-repack/builddb"
	"go-repack/dpkg"
	"go-repack/engine"
	"go-repack/log"
	"go-repack/pkg"
)

// Store is the part of the package cache the importer needs
type Store interface {
	Records(ctx context.Context) ([]builddb.CachedRecord, error)
	PersistBuiltPackages(ctx context.Context, batch []pkg.Artifact) error
}

// Result reports what ImportArchives did
type Result struct {
	Imported []pkg.Key        // Packages recorded in the cache
	Skipped  []string         // Archives whose package is already cached elsewhere
	Failed   map[string]error // Archives that could not be read
}

// Candidates returns the .deb files in dir that no cache record points at,
// sorted by name.
func Candidates(ctx context.Context, dir string, store Store) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	records, err := store.Records(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[filepath.Clean(rec.Path)] = true
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".deb") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !known[path] {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// DetectImportNeeded reports whether dir holds archives the cache does not
// know about.
func DetectImportNeeded(ctx context.Context, dir string, store Store) (bool, error) {
	paths, err := Candidates(ctx, dir, store)
	return len(paths) > 0, err
}

// ImportArchives records every unknown archive in dir in the cache.
//
// The package identity is read from the archive's control file, not from
// its name. Archives that cannot be read are reported in Result.Failed and
// do not stop the import. An archive whose package is already cached under
// another path is skipped. All imported archives are persisted in one
// transaction.
func ImportArchives(ctx context.Context, dir string, store Store, logger log.LibraryLogger) (*Result, error) {
	logger = log.OrNoOp(logger)

	paths, err := Candidates(ctx, dir, store)
	if err != nil {
		return nil, err
	}

	result := &Result{Failed: make(map[string]error)}
	if len(paths) == 0 {
		return result, nil
	}

	records, err := store.Records(ctx)
	if err != nil {
		return nil, err
	}
	cached := make(map[pkg.Key]bool, len(records))
	for i := range records {
		cached[records[i].Key()] = true
	}

	logger.Info("Importing %d archives from %s", len(paths), dir)

	var batch []pkg.Artifact
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := readPackage(path)
		if err != nil {
			logger.Warn("Skipping %s: %v", path, err)
			result.Failed[path] = err
			continue
		}
		if cached[p.Key()] {
			logger.Debug("%s is already cached, skipping %s", p, path)
			result.Skipped = append(result.Skipped, path)
			continue
		}

		cached[p.Key()] = true
		batch = append(batch, pkg.Artifact{Package: p, Path: path})
	}

	if len(batch) == 0 {
		return result, nil
	}
	if err := store.PersistBuiltPackages(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to record imported archives: %w", err)
	}

	for _, a := range batch {
		result.Imported = append(result.Imported, a.Package.Key())
	}
	logger.Info("Imported %d/%d archives", len(batch), len(paths))
	return result, nil
}

// controlEntry presents a control stanza as a raw index entry
type controlEntry struct {
	*dpkg.Stanza
}

func (c controlEntry) Field(name string) (string, bool) {
	return c.Get(name)
}

func (controlEntry) Release() {}

func readPackage(path string) (*pkg.Package, error) {
	s, err := dpkg.ReadControl(path)
	if err != nil {
		return nil, err
	}
	p, err := engine.Snapshot(controlEntry{s})
	if err != nil {
		return nil, err
	}
	p.Origin = pkg.Cached
	p.FilePath = path
	return p, nil
}
