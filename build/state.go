package build

import (
	"errors"
	"time"

	"go-repack/pkg"
	"go-repack/progress"
)

var (
	// ErrEmptyBatch is reported when Rebuild is called without items
	ErrEmptyBatch = errors.New("nothing to rebuild")

	// ErrBusy is reported when Rebuild is called while a session is running
	ErrBusy = errors.New("a rebuild session is already running")
)

// ItemError is the per-package failure carried in outcomes
type ItemError = progress.ItemError

// State is the orchestrator state
type State int

const (
	Idle State = iota
	Building
	Persisting
	Completed
	Failed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Persisting:
		return "persisting"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a session is in flight
func (s State) Active() bool {
	return s == Building || s == Persisting
}

// Progress is the rebuild progress readout, updated on every finished item
type Progress struct {
	Completed int
	Total     int
}

// Outcome is the result of one item
type Outcome struct {
	Succeeded bool
	Output    string // archive path on success
	Err       error  // *ItemError on failure
}

// Summary counts outcomes
type Summary struct {
	Succeeded int
	Failed    int
	Total     int
}

// Result is handed to the completion callback exactly once per accepted
// session, or synchronously for a rejected call.
type Result struct {
	SessionID string
	State     State
	Summary   Summary
	Outcomes  map[pkg.Key]Outcome

	// Artifacts are the archives handed to persistence. Empty on failure.
	Artifacts []pkg.Artifact
	Duration  time.Duration

	// Err is ErrEmptyBatch, ErrBusy, a rejection from the engine handle or
	// the *engine.CatastrophicError that failed the session.
	Err error

	// PersistErr is set when the rebuild succeeded but the artifacts could
	// not be recorded. No data-changed signal is sent in that case.
	PersistErr error
}

// OK reports whether the session rebuilt and persisted without a
// session-level error. Individual items may still have failed.
func (r Result) OK() bool {
	return r.Err == nil && r.PersistErr == nil
}

// Completion receives the result of a Rebuild call
type Completion func(Result)

// DataChanged is published once per completed session after its artifacts
// were persisted.
type DataChanged struct {
	SessionID string
	Artifacts int
}
