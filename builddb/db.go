// Package builddb provides the package cache using bbolt: archives built by
// rebuild sessions, the runs that produced them and the archive checksums
// used to verify them.
package builddb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenk/backoff"
	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"go-repack/pkg"
)

// Bucket names for bbolt database
const (
	BucketPackages    = "packages"
	BucketRuns        = "runs"
	BucketRunPackages = "run_packages"
	BucketCRCIndex    = "crc_index"
)

// lockTimeout bounds a single attempt to take the bolt file lock
const lockTimeout = 500 * time.Millisecond

// DB wraps a bbolt database holding the package cache
type DB struct {
	mu   sync.RWMutex // held for reading across each transaction, for writing by Close
	db   *bolt.DB
	path string
}

// CachedRecord is the stored form of one cached archive.
// Key format in the packages bucket: "identifier@version".
type CachedRecord struct {
	Identifier    string            `json:"identifier"`
	Version       string            `json:"version"`
	Name          string            `json:"name"`
	Section       string            `json:"section"`
	Architecture  string            `json:"architecture,omitempty"`
	InstalledSize int64             `json:"installed_size"`
	Path          string            `json:"path"`
	Size          int64             `json:"size"`
	BuiltAt       time.Time         `json:"built_at"`
	Details       map[string]string `json:"details,omitempty"`
}

// Key returns the identity of the cached package
func (r *CachedRecord) Key() pkg.Key {
	return pkg.Key{Identifier: r.Identifier, Version: r.Version}
}

// Package converts the record into a cached package
func (r *CachedRecord) Package() *pkg.Package {
	p := pkg.New(r.Identifier, r.Version, r.Name, pkg.StaticDetails(r.Details))
	p.Section = pkg.ParseSection(r.Section)
	p.Architecture = r.Architecture
	p.InstalledSizeBytes = r.InstalledSize
	p.Origin = pkg.Cached
	p.FilePath = r.Path
	return p
}

// OpenDB opens or creates a bbolt database at the given path.
// It initializes the required buckets if they don't exist. The database is
// opened with 0600 permissions. When another process holds the database,
// OpenDB fails after a short lock timeout; see OpenWithRetry.
func OpenDB(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{BucketPackages, BucketRuns, BucketRunPackages, BucketCRCIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return &DatabaseError{Op: "create bucket", Bucket: name, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &DB{
		db:   bdb,
		path: path,
	}, nil
}

// OpenWithRetry opens the database, retrying with exponential backoff
// while another process holds the file lock. Other errors fail at once.
// maxWait bounds the total time spent retrying.
func OpenWithRetry(path string, maxWait time.Duration) (*DB, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxWait
	b.Reset()

	var db *DB
	var permanent error
	err := backoff.Retry(func() error {
		d, err := OpenDB(path)
		switch {
		case err == nil:
			db = d
			return nil
		case errors.Is(err, berrors.ErrTimeout):
			return err
		default:
			permanent = err
			return nil
		}
	}, b)

	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes the database connection and flushes any pending writes to disk.
// It is safe to call Close multiple times.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	return err
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

func (db *DB) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.db == nil {
		return &DatabaseError{Op: "access", Err: ErrDatabaseNotOpen}
	}
	return nil
}

// view runs fn in a read transaction. Close waits for it to return.
func (db *DB) view(fn func(*bolt.Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.db == nil {
		return &DatabaseError{Op: "access", Err: ErrDatabaseNotOpen}
	}
	return db.db.View(fn)
}

// update runs fn in a write transaction. Close waits for it to return.
func (db *DB) update(fn func(*bolt.Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.db == nil {
		return &DatabaseError{Op: "access", Err: ErrDatabaseNotOpen}
	}
	return db.db.Update(fn)
}

func packageKey(k pkg.Key) []byte {
	return []byte(k.String())
}

type preparedArtifact struct {
	key []byte
	rec []byte
	crc uint32
}

// PersistBuiltPackages records a batch of built archives in one write
// transaction: either every artifact is stored or none is. Checksums are
// computed before the transaction starts. An empty batch is a successful
// no-op.
func (db *DB) PersistBuiltPackages(ctx context.Context, batch []pkg.Artifact) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	now := time.Now()
	prepared := make([]preparedArtifact, 0, len(batch))
	for _, a := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.Package == nil || a.Package.Identifier == "" {
			return &ValidationError{Field: "artifact.Package", Err: ErrEmptyKey}
		}
		if a.Path == "" {
			return &ValidationError{Field: "artifact.Path", Value: a.Package.String(), Err: ErrEmptyPath}
		}

		crc, size, err := ComputeFileCRC(a.Path)
		if err != nil {
			return &PackageError{Op: "checksum", Key: a.Package.Key(), Err: err}
		}

		p := a.Package
		rec := CachedRecord{
			Identifier:    p.Identifier,
			Version:       p.Version,
			Name:          p.Name,
			Section:       p.Section.String(),
			Architecture:  p.Architecture,
			InstalledSize: p.InstalledSizeBytes,
			Path:          a.Path,
			Size:          size,
			BuiltAt:       now,
			Details:       pkg.Detach(p.Details()),
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			return &PackageError{Op: "marshal", Key: p.Key(), Err: err}
		}
		prepared = append(prepared, preparedArtifact{key: packageKey(p.Key()), rec: data, crc: crc})
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	err := db.update(func(tx *bolt.Tx) error {
		packages := tx.Bucket([]byte(BucketPackages))
		if packages == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketPackages, Err: ErrBucketNotFound}
		}
		crcIndex := tx.Bucket([]byte(BucketCRCIndex))
		if crcIndex == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketCRCIndex, Err: ErrBucketNotFound}
		}

		for _, a := range prepared {
			if err := packages.Put(a.key, a.rec); err != nil {
				return err
			}
			if err := crcIndex.Put(a.key, encodeCRC(a.crc)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &DatabaseError{Op: "persist batch", Bucket: BucketPackages, Err: err}
	}
	return nil
}

// Records returns every cached record ordered by identifier, then version
func (db *DB) Records(ctx context.Context) ([]CachedRecord, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	var records []CachedRecord
	err := db.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketPackages))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketPackages, Err: ErrBucketNotFound}
		}
		return bucket.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec CachedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return &ValidationError{Field: "record", Value: string(k), Err: ErrCorruptedData}
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Identifier != records[j].Identifier {
			return records[i].Identifier < records[j].Identifier
		}
		return records[i].Version < records[j].Version
	})
	return records, nil
}

// FetchCachedPackages returns the cached packages as Cached-origin values
// that own no native resource.
func (db *DB) FetchCachedPackages(ctx context.Context) ([]*pkg.Package, error) {
	records, err := db.Records(ctx)
	if err != nil {
		return nil, err
	}
	packages := make([]*pkg.Package, 0, len(records))
	for i := range records {
		packages = append(packages, records[i].Package())
	}
	return packages, nil
}

// Get retrieves one cached record
func (db *DB) Get(k pkg.Key) (*CachedRecord, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	var rec CachedRecord
	err := db.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketPackages))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketPackages, Err: ErrBucketNotFound}
		}
		data := bucket.Get(packageKey(k))
		if data == nil {
			return &PackageError{Op: "get", Key: k, Err: ErrRecordNotFound}
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteOptions controls DeletePackages
type DeleteOptions struct {
	// RemoveFiles also deletes the archive files from disk
	RemoveFiles bool
}

// DeletePackages removes cached packages and their checksums. A key with an
// empty Version removes every cached version of the identifier. It returns
// the number of removed records. Unknown keys are not an error.
func (db *DB) DeletePackages(ctx context.Context, keys []pkg.Key, opts DeleteOptions) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var files []string
	removed := 0
	err := db.update(func(tx *bolt.Tx) error {
		packages := tx.Bucket([]byte(BucketPackages))
		if packages == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketPackages, Err: ErrBucketNotFound}
		}
		crcIndex := tx.Bucket([]byte(BucketCRCIndex))
		if crcIndex == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketCRCIndex, Err: ErrBucketNotFound}
		}

		var victims [][]byte
		for _, k := range keys {
			if k.Identifier == "" {
				return &ValidationError{Field: "key", Err: ErrEmptyKey}
			}
			if k.Version != "" {
				if packages.Get(packageKey(k)) != nil {
					victims = append(victims, packageKey(k))
				}
				continue
			}
			prefix := []byte(k.Identifier + "@")
			c := packages.Cursor()
			for ck, _ := c.Seek(prefix); ck != nil && bytes.HasPrefix(ck, prefix); ck, _ = c.Next() {
				victims = append(victims, append([]byte(nil), ck...))
			}
		}

		for _, key := range victims {
			data := packages.Get(key)
			if data == nil {
				continue // listed twice
			}
			var rec CachedRecord
			if err := json.Unmarshal(data, &rec); err == nil && rec.Path != "" {
				files = append(files, rec.Path)
			}
			if err := packages.Delete(key); err != nil {
				return err
			}
			if err := crcIndex.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, &DatabaseError{Op: "delete packages", Bucket: BucketPackages, Err: err}
	}

	if opts.RemoveFiles {
		var errs []error
		for _, path := range files {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return removed, errors.Join(errs...)
		}
	}
	return removed, nil
}

// DBStats summarizes the database contents
type DBStats struct {
	Packages   int
	TotalBytes int64
	Runs       int
}

// Stats counts cached packages, their total archive size and recorded runs
func (db *DB) Stats() (DBStats, error) {
	if err := db.checkOpen(); err != nil {
		return DBStats{}, err
	}

	var st DBStats
	err := db.view(func(tx *bolt.Tx) error {
		packages := tx.Bucket([]byte(BucketPackages))
		if packages == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketPackages, Err: ErrBucketNotFound}
		}
		err := packages.ForEach(func(k, v []byte) error {
			var rec CachedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return &ValidationError{Field: "record", Value: string(k), Err: ErrCorruptedData}
			}
			st.Packages++
			st.TotalBytes += rec.Size
			return nil
		})
		if err != nil {
			return err
		}

		runs := tx.Bucket([]byte(BucketRuns))
		if runs == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		st.Runs = runs.Stats().KeyN
		return nil
	})
	return st, err
}

// Backup writes a consistent copy of the database to w and returns the
// number of bytes written.
func (db *DB) Backup(w io.Writer) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	err := db.view(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	if err != nil {
		return n, &DatabaseError{Op: "backup", Err: err}
	}
	return n, nil
}
