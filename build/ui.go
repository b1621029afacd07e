package build

import (
	"go-repack/progress"
	"go-repack/stats"
)

// UI displays rebuild progress
// Implementations receive progress events and stats snapshots.
type UI interface {
	progress.Subscriber

	// OnStatsUpdate receives real-time stats updates (called every 1s by StatsCollector)
	stats.StatsConsumer

	// Start initializes the UI
	Start() error

	// Stop cleanly shuts down the UI
	Stop()

	// ShowResult prints the final session result
	ShowResult(r Result)
}
