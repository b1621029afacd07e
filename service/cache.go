package service

import (
	"context"
	"fmt"
	"strings"

	"go-repack/builddb"
	"go-repack/pkg"
)

// Delete removes cached archives named by specs. A spec without a version
// removes every cached version of the identifier. With removeFiles the
// archive files are deleted as well. It returns the number of removed
// records.
func (s *Service) Delete(ctx context.Context, specs []string, removeFiles bool) (int, error) {
	keys := make([]pkg.Key, 0, len(specs))
	for _, spec := range specs {
		k := pkg.ParseKey(spec)
		if k.Identifier == "" {
			return 0, pkg.ErrEmptyIdentifier
		}
		keys = append(keys, k)
	}

	removed, err := s.db.DeletePackages(ctx, keys, builddb.DeleteOptions{RemoveFiles: removeFiles})
	if removed > 0 {
		s.sink.Info("Removed %d cached packages", removed)
		if s.cached.Loaded() {
			if rerr := s.cached.Reload(ctx); rerr != nil {
				s.sink.Warn("Failed to reload cached packages: %v", rerr)
			}
		}
	}
	if err != nil {
		return removed, fmt.Errorf("failed to delete cached packages: %w", err)
	}
	return removed, nil
}

// Verify checks that every cached archive exists and matches its checksum
func (s *Service) Verify(ctx context.Context) (*VerifyResult, error) {
	checked, issues, err := s.db.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify package cache: %w", err)
	}
	for _, issue := range issues {
		s.sink.Warn("%s", issue)
	}
	return &VerifyResult{Checked: checked, Issues: issues}, nil
}

// Runs returns up to limit recorded rebuild sessions, newest first
func (s *Service) Runs(limit int) ([]builddb.RunRecord, error) {
	return s.db.ListRuns(limit)
}

// RunPackages returns the per-package records of one session
func (s *Service) RunPackages(runID string) ([]builddb.RunPackageRecord, error) {
	return s.db.ListRunPackages(runID)
}

// FindRun returns the run whose ID starts with prefix. The prefix must
// select exactly one run.
func (s *Service) FindRun(prefix string) (*builddb.RunRecord, error) {
	if prefix == "" {
		return nil, fmt.Errorf("empty run ID")
	}
	runs, err := s.db.ListRuns(0)
	if err != nil {
		return nil, err
	}

	var found *builddb.RunRecord
	for i := range runs {
		if !strings.HasPrefix(runs[i].ID, prefix) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("run ID %q is ambiguous", prefix)
		}
		found = &runs[i]
	}
	if found == nil {
		return nil, fmt.Errorf("no run matches %q", prefix)
	}
	return found, nil
}
