package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"go-repack/migration"
)

// BackupDatabase writes a consistent copy of the package cache database.
//
// When path is empty the backup is written next to the database as
// "<db>.<timestamp>.backup". Returns the path written.
func (s *Service) BackupDatabase(path string) (string, error) {
	if s.db == nil {
		return "", fmt.Errorf("database not initialized")
	}
	if path == "" {
		path = fmt.Sprintf("%s.%s.backup", s.db.Path(), time.Now().Format("20060102-150405"))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	n, err := s.db.Backup(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	s.sink.Info("Database backed up to: %s (%d bytes)", path, n)
	return path, nil
}

// GetDatabasePath returns the path to the package cache database.
func (s *Service) GetDatabasePath() string {
	return s.cfg.Database.Path
}

// ImportArchives records archives found in the output directory that the
// package cache does not know about. It refuses to run during a rebuild.
func (s *Service) ImportArchives(ctx context.Context) (*migration.Result, error) {
	if s.orch.State().Active() {
		return nil, fmt.Errorf("a rebuild is running, try again when it finished")
	}

	result, err := migration.ImportArchives(ctx, s.cfg.OutputPath, s.db, s.sink.WithSource("import"))
	if err != nil {
		return nil, err
	}
	if len(result.Imported) > 0 && s.cached.Loaded() {
		if err := s.cached.Reload(ctx); err != nil {
			s.sink.Warn("Failed to reload cached packages: %v", err)
		}
	}
	return result, nil
}
