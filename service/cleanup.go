package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cleanup removes archives from the output directory that the package
// cache does not know about. They are left behind when persisting a
// session fails or records are deleted without their files.
//
// This method handles all the business logic but does not interact with the user.
// The caller is responsible for confirming destructive operations.
func (s *Service) Cleanup(ctx context.Context, opts CleanupOptions) (*CleanupResult, error) {
	if s.orch.State().Active() {
		return nil, fmt.Errorf("a rebuild is running, try again when it finished")
	}

	orphans, err := s.orphanedArchives(ctx)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{
		Orphans: orphans,
		Errors:  make([]error, 0),
	}
	if opts.DryRun {
		return result, nil
	}

	for _, path := range orphans {
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, err)
			s.sink.Warn("Failed to remove %s: %v", path, err)
			continue
		}
		result.Removed++
		s.sink.Info("Removed orphaned archive %s", path)
	}

	if len(orphans) == 0 {
		s.sink.Info("No orphaned archives found")
	}
	return result, nil
}

func (s *Service) orphanedArchives(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.cfg.OutputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	records, err := s.db.Records(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[filepath.Clean(rec.Path)] = true
	}

	var orphans []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".deb") {
			continue
		}
		path := filepath.Join(s.cfg.OutputPath, entry.Name())
		if !known[path] {
			orphans = append(orphans, path)
		}
	}
	return orphans, nil
}
