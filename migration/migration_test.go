package migration_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blakesmith/ar"

	"go-repack/builddb"
	"go-repack/migration"
	"go-repack/pkg"
)

// writeDeb writes a minimal .deb whose control.tar.gz holds control
func writeDeb(t *testing.T, path, control string) {
	t.Helper()

	var tarBuf bytes.Buffer
	zw := gzip.NewWriter(&tarBuf)
	tw := tar.NewWriter(zw)
	if err := tw.WriteHeader(&tar.Header{Name: "./control", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(control))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(control)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	w := ar.NewWriter(file)
	if err := w.WriteGlobalHeader(); err != nil {
		t.Fatal(err)
	}
	for _, m := range []struct {
		name string
		body []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"control.tar.gz", tarBuf.Bytes()},
	} {
		if err := w.WriteHeader(&ar.Header{Name: m.name, Mode: 0644, Size: int64(len(m.body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(m.body); err != nil {
			t.Fatal(err)
		}
	}
}

func openDB(t *testing.T) *builddb.DB {
	t.Helper()
	db, err := builddb.OpenDB(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestImportArchives tests the main import workflow
func TestImportArchives(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t)
	ctx := context.Background()

	writeDeb(t, filepath.Join(dir, "hello_2.10_amd64.deb"),
		"Package: hello\nVersion: 1:2.10\nArchitecture: amd64\nSection: utils\nInstalled-Size: 20\nDescription: greeting\n")
	writeDeb(t, filepath.Join(dir, "renamed.deb"),
		"Package: libfoo\nVersion: 1.2\nSection: libs\n")
	if err := os.WriteFile(filepath.Join(dir, "broken.deb"), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	needed, err := migration.DetectImportNeeded(ctx, dir, db)
	if err != nil || !needed {
		t.Fatalf("DetectImportNeeded() = %v, %v", needed, err)
	}

	result, err := migration.ImportArchives(ctx, dir, db, nil)
	if err != nil {
		t.Fatalf("ImportArchives() failed: %v", err)
	}
	if len(result.Imported) != 2 {
		t.Fatalf("Imported = %v, want hello and libfoo", result.Imported)
	}
	if _, ok := result.Failed[filepath.Join(dir, "broken.deb")]; !ok || len(result.Failed) != 1 {
		t.Errorf("Failed = %v, want broken.deb", result.Failed)
	}

	// Identity comes from the control file, not the file name
	rec, err := db.Get(pkg.Key{Identifier: "libfoo", Version: "1.2"})
	if err != nil {
		t.Fatalf("libfoo not cached: %v", err)
	}
	if rec.Path != filepath.Join(dir, "renamed.deb") || rec.Section != "System" {
		t.Errorf("libfoo record = %+v", rec)
	}

	hello, err := db.Get(pkg.Key{Identifier: "hello", Version: "1:2.10"})
	if err != nil {
		t.Fatal(err)
	}
	if hello.InstalledSize != 20*1024 || hello.Details["Description"] != "greeting" {
		t.Errorf("hello record = %+v", hello)
	}

	// Imported archives pass verification
	checked, issues, err := db.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if checked != 2 || len(issues) != 0 {
		t.Errorf("Verify() = %d checked, issues %v", checked, issues)
	}
}

// TestImportArchives_Idempotent tests that a second import changes nothing
func TestImportArchives_Idempotent(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t)
	ctx := context.Background()

	writeDeb(t, filepath.Join(dir, "a.deb"), "Package: a\nVersion: 1\n")

	if _, err := migration.ImportArchives(ctx, dir, db, nil); err != nil {
		t.Fatal(err)
	}
	result, err := migration.ImportArchives(ctx, dir, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Imported) != 0 || len(result.Skipped) != 0 {
		t.Errorf("second import = %+v, want no work", result)
	}

	needed, err := migration.DetectImportNeeded(ctx, dir, db)
	if err != nil || needed {
		t.Errorf("DetectImportNeeded() after import = %v, %v", needed, err)
	}
}

// TestImportArchives_AlreadyCachedElsewhere tests duplicate identities
func TestImportArchives_AlreadyCachedElsewhere(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t)
	ctx := context.Background()

	writeDeb(t, filepath.Join(dir, "a.deb"), "Package: a\nVersion: 1\n")
	writeDeb(t, filepath.Join(dir, "a-copy.deb"), "Package: a\nVersion: 1\n")

	result, err := migration.ImportArchives(ctx, dir, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Candidates are sorted, so a-copy.deb wins
	if len(result.Imported) != 1 || len(result.Skipped) != 1 || result.Skipped[0] != filepath.Join(dir, "a.deb") {
		t.Errorf("result = %+v", result)
	}
}

func TestImportArchives_MissingDirectory(t *testing.T) {
	db := openDB(t)

	result, err := migration.ImportArchives(context.Background(), filepath.Join(t.TempDir(), "none"), db, nil)
	if err != nil {
		t.Fatalf("ImportArchives() failed: %v", err)
	}
	if len(result.Imported) != 0 {
		t.Errorf("Imported = %v", result.Imported)
	}
}

func TestImportArchives_Cancelled(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t)
	writeDeb(t, filepath.Join(dir, "a.deb"), "Package: a\nVersion: 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := migration.ImportArchives(ctx, dir, db, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
