// Package stats provides real-time rebuild statistics. A StatsCollector
// subscribes to progress events, keeps a 60-second sliding window of
// completions and notifies registered consumers (stdout UI, run record
// writer) once per second.
package stats

import (
	"fmt"
	"time"
)

// TopInfo contains real-time rebuild statistics.
// This is the payload shared across all stats consumers.
type TopInfo struct {
	// Items currently inside the engine (started, not finished)
	Active int `json:"active"`

	// Rate Metrics
	Rate    float64 `json:"rate"`    // Packages/hour (60s sliding window)
	Impulse float64 `json:"impulse"` // Completions in the last 1s bucket

	// Timing
	Elapsed   time.Duration `json:"elapsed"`
	StartTime time.Time     `json:"start_time"`

	// Totals
	Queued    int `json:"queued"`
	Built     int `json:"built"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"` // Queued - (Built + Failed)
}

// Done returns the number of finished items
func (t TopInfo) Done() int {
	return t.Built + t.Failed
}

// BuildStatus is the outcome of one rebuilt item
type BuildStatus int

const (
	BuildSuccess BuildStatus = iota
	BuildFailed
)

// String returns the string representation of BuildStatus
func (bs BuildStatus) String() string {
	switch bs {
	case BuildSuccess:
		return "success"
	case BuildFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatsConsumer receives OnStatsUpdate() calls every second with a fresh
// TopInfo snapshot.
type StatsConsumer interface {
	OnStatsUpdate(info TopInfo)
}

// FormatDuration formats a duration as HH:MM:SS for display
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// FormatRate formats a rate (packages/hour) for display
func FormatRate(rate float64) string {
	if rate < 0.1 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", rate)
}
