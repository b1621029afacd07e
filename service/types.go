package service

import (
	"go-repack/build"
	"go-repack/builddb"
)

// RebuildOptions contains options for the Rebuild service.
type RebuildOptions struct {
	UI build.UI // Progress display (nil = none)
}

// InitOptions contains options for the Initialize service.
type InitOptions struct {
	ConfigPath string // Where to write the configuration ("" = don't write)
	Overwrite  bool   // Replace an existing configuration file
}

// InitResult contains the results of an initialization operation.
type InitResult struct {
	DirsCreated   []string // List of directories created
	ConfigWritten string   // Path of the written configuration file
	StatusFound   bool     // Whether the dpkg status file exists
	Warnings      []string // Non-fatal warnings
}

// StatusResult contains the results of a status query.
type StatusResult struct {
	Cache        builddb.DBStats     // Package cache statistics
	DatabaseSize int64               // Size of the database file in bytes
	State        build.State         // Orchestrator state
	Progress     build.Progress      // Progress of the running or last session
	Last         *build.Result       // Last session of this process (nil if none)
	ActiveRun    *builddb.RunRecord  // Run recorded as running, possibly by another process
	RecentRuns   []builddb.RunRecord // Newest runs first
	ImportNeeded bool                // Output directory holds archives the cache does not know
}

// VerifyResult contains the results of a cache verification.
type VerifyResult struct {
	Checked int                   // Number of cached records checked
	Issues  []builddb.VerifyIssue // Records whose archive is missing or altered
}

// CleanupOptions contains options for the Cleanup service.
type CleanupOptions struct {
	DryRun bool // Only report orphaned archives
}

// CleanupResult contains the results of a cleanup operation.
type CleanupResult struct {
	Orphans []string // Archives in the output directory not in the cache
	Removed int      // Number of archives removed
	Errors  []error  // Non-fatal errors encountered
}
