package service

import (
	"context"
	"fmt"
	"os"

	"go-repack/migration"
)

// recentRuns is how many runs Status reports
const recentRuns = 5

// Status reports the package cache, the orchestrator and recent runs.
//
// This method handles all the business logic but does not interact with the user.
// The caller is responsible for formatting and displaying the result.
func (s *Service) Status() (*StatusResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	cache, err := s.db.Stats()
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	result := &StatusResult{
		Cache:    cache,
		State:    s.orch.State(),
		Progress: s.orch.Progress(),
	}
	if fi, err := os.Stat(s.db.Path()); err == nil {
		result.DatabaseSize = fi.Size()
	}
	if last, ok := s.orch.Last(); ok {
		result.Last = &last
	}

	if _, rec, err := s.db.ActiveRun(); err != nil {
		return nil, fmt.Errorf("failed to look up active run: %w", err)
	} else if rec != nil {
		result.ActiveRun = rec
	}

	result.RecentRuns, err = s.db.ListRuns(recentRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result.ImportNeeded, err = migration.DetectImportNeeded(context.Background(), s.cfg.OutputPath, s.db)
	if err != nil {
		s.sink.Warn("Failed to scan %s for unrecorded archives: %v", s.cfg.OutputPath, err)
	}
	return result, nil
}
