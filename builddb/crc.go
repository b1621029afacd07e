package builddb

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"go-repack/pkg"
)

// ComputeFileCRC calculates the CRC32 (IEEE) of an archive and returns it
// with the file size.
func ComputeFileCRC(path string) (uint32, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, &CRCError{Op: "compute", Path: path, Err: err}
	}
	defer f.Close()

	hash := crc32.NewIEEE()
	n, err := io.Copy(hash, f)
	if err != nil {
		return 0, 0, &CRCError{Op: "compute", Path: path, Err: err}
	}
	return hash.Sum32(), n, nil
}

// CRC is stored as a 4-byte little-endian value
func encodeCRC(crc uint32) []byte {
	return []byte{byte(crc), byte(crc >> 8), byte(crc >> 16), byte(crc >> 24)}
}

func decodeCRC(value []byte) (uint32, error) {
	if len(value) != 4 {
		return 0, &ValidationError{
			Field: "crc",
			Value: fmt.Sprintf("%d bytes", len(value)),
			Err:   ErrCorruptedData,
		}
	}
	return uint32(value[0]) | uint32(value[1])<<8 | uint32(value[2])<<16 | uint32(value[3])<<24, nil
}

// GetCRC retrieves the stored checksum of a cached archive. The second
// return value reports whether a checksum exists.
func (db *DB) GetCRC(k pkg.Key) (uint32, bool, error) {
	if err := db.checkOpen(); err != nil {
		return 0, false, err
	}

	var crc uint32
	var found bool
	err := db.view(func(tx *bolt.Tx) error {
		crcIndex := tx.Bucket([]byte(BucketCRCIndex))
		if crcIndex == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketCRCIndex, Err: ErrBucketNotFound}
		}
		value := crcIndex.Get(packageKey(k))
		if value == nil {
			return nil
		}
		var err error
		crc, err = decodeCRC(value)
		found = err == nil
		return err
	})
	if err != nil {
		return 0, false, &CRCError{Op: "get", Path: k.String(), Err: err}
	}
	return crc, found, nil
}

// Problem classifies a verification failure
type Problem string

const (
	ProblemMissing  Problem = "missing"
	ProblemMismatch Problem = "checksum mismatch"
	ProblemNoCRC    Problem = "no checksum"
	ProblemCorrupt  Problem = "unreadable record"
)

// VerifyIssue is one cached package whose archive failed verification
type VerifyIssue struct {
	Key     pkg.Key `json:"key"`
	Path    string  `json:"path"`
	Problem Problem `json:"problem"`
}

// String formats the issue for display
func (v VerifyIssue) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Key, v.Problem, v.Path)
}

// Verify checks that every cached archive still exists and matches its
// recorded checksum. It returns the number of checked records and the
// issues found.
func (db *DB) Verify(ctx context.Context) (int, []VerifyIssue, error) {
	if err := db.checkOpen(); err != nil {
		return 0, nil, err
	}

	type entry struct {
		key    pkg.Key
		path   string
		crc    uint32
		hasCRC bool
		bad    bool
	}
	var entries []entry

	// Checksums are computed outside the read transaction
	err := db.view(func(tx *bolt.Tx) error {
		packages := tx.Bucket([]byte(BucketPackages))
		if packages == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketPackages, Err: ErrBucketNotFound}
		}
		crcIndex := tx.Bucket([]byte(BucketCRCIndex))
		if crcIndex == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketCRCIndex, Err: ErrBucketNotFound}
		}

		return packages.ForEach(func(k, v []byte) error {
			var rec CachedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				entries = append(entries, entry{key: pkg.ParseKey(string(k)), bad: true})
				return nil
			}
			e := entry{key: rec.Key(), path: rec.Path}
			if value := crcIndex.Get(k); value != nil {
				if crc, err := decodeCRC(value); err == nil {
					e.crc, e.hasCRC = crc, true
				}
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return 0, nil, err
	}

	var issues []VerifyIssue
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		if e.bad {
			issues = append(issues, VerifyIssue{Key: e.key, Problem: ProblemCorrupt})
			continue
		}
		if _, err := os.Stat(e.path); err != nil {
			issues = append(issues, VerifyIssue{Key: e.key, Path: e.path, Problem: ProblemMissing})
			continue
		}
		if !e.hasCRC {
			issues = append(issues, VerifyIssue{Key: e.key, Path: e.path, Problem: ProblemNoCRC})
			continue
		}
		crc, _, err := ComputeFileCRC(e.path)
		if err != nil || crc != e.crc {
			issues = append(issues, VerifyIssue{Key: e.key, Path: e.path, Problem: ProblemMismatch})
		}
	}
	return len(entries), issues, nil
}
