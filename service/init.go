package service

import (
	"fmt"
	"os"
	"path/filepath"

	"go-repack/config"
)

// Initialize sets up the repack environment for the first time.
//
// It creates the base, output and log directories, optionally writes the
// configuration file and checks that the dpkg status file is readable. It
// needs no Service: the database and log files are created by NewService.
//
// This method handles all the business logic but does not interact with the user.
// The caller is responsible for displaying what was created and any warnings.
func Initialize(cfg *config.Config, opts InitOptions) (*InitResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	result := &InitResult{
		DirsCreated: make([]string, 0),
		Warnings:    make([]string, 0),
	}

	dirs := []struct{ label, path string }{
		{"Base", cfg.BaseDir},
		{"Output", cfg.OutputPath},
		{"Logs", cfg.LogsPath},
		{"Database", filepath.Dir(cfg.Database.Path)},
	}
	for _, d := range dirs {
		if d.path == "" {
			continue
		}
		if err := os.MkdirAll(d.path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory (%s): %w", d.label, d.path, err)
		}
		result.DirsCreated = append(result.DirsCreated, d.path)
	}

	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil && !opts.Overwrite {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Configuration %s exists, not overwritten", opts.ConfigPath))
		} else {
			if err := config.SaveConfig(opts.ConfigPath, cfg); err != nil {
				return nil, err
			}
			result.ConfigWritten = opts.ConfigPath
		}
	}

	status := filepath.Join(cfg.AdminDir, "status")
	if _, err := os.Stat(status); err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("dpkg status file not readable: %v", err))
	} else {
		result.StatusFound = true
	}

	return result, nil
}
