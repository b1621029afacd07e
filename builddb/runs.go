package builddb

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// RunStats aggregates per-run package outcomes.
type RunStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// RunRecord captures metadata for one rebuild session.
type RunRecord struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Aborted   bool      `json:"aborted"`
	Stats     RunStats  `json:"stats"`

	// LiveSnapshot is the latest JSON-encoded stats snapshot while running
	LiveSnapshot string `json:"live_snapshot,omitempty"`
}

// Running reports whether the run has not finished yet
func (r *RunRecord) Running() bool {
	return r.EndTime.IsZero()
}

// Duration returns the run time, up to now for running records
func (r *RunRecord) Duration() time.Duration {
	if r.Running() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// RunPackageRecord represents a package rebuilt within a run.
type RunPackageRecord struct {
	Identifier string    `json:"identifier"`
	Version    string    `json:"version"`
	Status     string    `json:"status"`
	Output     string    `json:"output,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	EndTime    time.Time `json:"end_time"`
}

// StartRun writes a new run entry with the provided run ID and start time.
func (db *DB) StartRun(runID string, startTime time.Time) error {
	if runID == "" {
		return &ValidationError{Field: "runID", Err: ErrEmptyUUID}
	}
	if err := db.checkOpen(); err != nil {
		return err
	}

	rec := RunRecord{ID: runID, StartTime: startTime}
	return db.saveRunRecord(runID, &rec)
}

// FinishRun updates an existing run with stats, end time, and abortion flag.
func (db *DB) FinishRun(runID string, stats RunStats, endTime time.Time, aborted bool) error {
	if runID == "" {
		return &ValidationError{Field: "runID", Err: ErrEmptyUUID}
	}
	if err := db.checkOpen(); err != nil {
		return err
	}

	return db.updateRunRecord(runID, func(rec *RunRecord) {
		rec.EndTime = endTime
		rec.Aborted = aborted
		rec.Stats = stats
	})
}

// UpdateRunSnapshot stores the latest live stats snapshot of a run.
func (db *DB) UpdateRunSnapshot(runID string, snapshot string) error {
	if runID == "" {
		return &ValidationError{Field: "runID", Err: ErrEmptyUUID}
	}
	if err := db.checkOpen(); err != nil {
		return err
	}

	return db.updateRunRecord(runID, func(rec *RunRecord) {
		rec.LiveSnapshot = snapshot
	})
}

// GetRun fetches a run record by its ID.
func (db *DB) GetRun(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, &ValidationError{Field: "runID", Err: ErrEmptyUUID}
	}
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	var rec RunRecord
	err := db.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}

		data := bucket.Get([]byte(runID))
		if data == nil {
			return &RecordError{Op: "get run", UUID: runID, Err: ErrRecordNotFound}
		}

		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns every run, most recent first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]RunRecord, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	var runs []RunRecord
	err := db.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		return bucket.ForEach(func(k, v []byte) error {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return &RecordError{Op: "unmarshal run", UUID: string(k), Err: err}
			}
			if r.ID == "" {
				r.ID = string(k)
			}
			runs = append(runs, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ActiveRun returns the first run that has no end time (if any).
func (db *DB) ActiveRun() (string, *RunRecord, error) {
	if err := db.checkOpen(); err != nil {
		return "", nil, err
	}

	var runID string
	var rec *RunRecord

	err := db.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}

		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.EndTime.IsZero() {
				runID = string(k)
				rec = &r
				break
			}
		}
		return nil
	})

	if err != nil {
		return "", nil, err
	}
	if rec == nil {
		return "", nil, nil
	}
	return runID, rec, nil
}

// PutRunPackage writes or updates a package record for the given run.
func (db *DB) PutRunPackage(runID string, rec *RunPackageRecord) error {
	if runID == "" {
		return &ValidationError{Field: "runID", Err: ErrEmptyUUID}
	}
	if rec == nil {
		return fmt.Errorf("package record is nil")
	}
	if err := db.checkOpen(); err != nil {
		return err
	}

	key := runPackageKey(runID, rec.Identifier, rec.Version)
	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal run package", UUID: runID, Err: err}
	}

	return db.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRunPackages))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRunPackages, Err: ErrBucketNotFound}
		}
		return bucket.Put(key, data)
	})
}

// ListRunPackages returns all package records for the given run.
func (db *DB) ListRunPackages(runID string) ([]RunPackageRecord, error) {
	if runID == "" {
		return nil, &ValidationError{Field: "runID", Err: ErrEmptyUUID}
	}
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	prefix := runPackagePrefix(runID)
	var records []RunPackageRecord

	err := db.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRunPackages))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRunPackages, Err: ErrBucketNotFound}
		}

		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec RunPackageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return records, nil
}

func runPackageKey(runID, identifier, version string) []byte {
	key := fmt.Sprintf("%s@%s", identifier, version)
	return append(runPackagePrefix(runID), []byte(key)...)
}

func runPackagePrefix(runID string) []byte {
	return []byte(runID + "\x00")
}

func (db *DB) saveRunRecord(runID string, rec *RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal run", UUID: runID, Err: err}
	}

	return db.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		return bucket.Put([]byte(runID), data)
	})
}

func (db *DB) updateRunRecord(runID string, mutate func(*RunRecord)) error {
	return db.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}

		data := bucket.Get([]byte(runID))
		if data == nil {
			return &RecordError{Op: "update run", UUID: runID, Err: ErrRecordNotFound}
		}

		var rec RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return &RecordError{Op: "unmarshal run", UUID: runID, Err: err}
		}

		mutate(&rec)

		updated, err := json.Marshal(&rec)
		if err != nil {
			return &RecordError{Op: "marshal run", UUID: runID, Err: err}
		}

		return bucket.Put([]byte(runID), updated)
	})
}
