package stats

import (
	json "github.com/goccy/go-json"

	"go-repack/log"
)

// BuildDBWriter implements StatsConsumer to persist live stats into the
// run record of the current session (RunRecord.LiveSnapshot).
//
// Database write failures are logged but do not interrupt the rebuild.
type BuildDBWriter struct {
	db     BuildDB
	runID  string
	logger log.LibraryLogger
}

// BuildDB is the subset of builddb.DB the writer needs.
type BuildDB interface {
	UpdateRunSnapshot(runID string, snapshot string) error
}

// NewBuildDBWriter creates a stats consumer for the given run. logger may be nil.
func NewBuildDBWriter(db BuildDB, runID string, logger log.LibraryLogger) *BuildDBWriter {
	return &BuildDBWriter{
		db:     db,
		runID:  runID,
		logger: log.OrNoOp(logger),
	}
}

// OnStatsUpdate persists the current stats snapshot.
func (w *BuildDBWriter) OnStatsUpdate(info TopInfo) {
	data, err := json.Marshal(info)
	if err != nil {
		w.logger.Warn("Failed to marshal stats snapshot: %v", err)
		return
	}

	if err := w.db.UpdateRunSnapshot(w.runID, string(data)); err != nil {
		w.logger.Warn("Failed to update snapshot for run %s: %v", w.runID, err)
	}
}
