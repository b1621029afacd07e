package provider

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingReloader struct {
	calls atomic.Int32
}

func (r *countingReloader) Reload(ctx context.Context) error {
	r.calls.Add(1)
	return nil
}

func TestWatcher_ReloadsOnStatusChange(t *testing.T) {
	dir := t.TempDir()
	status := filepath.Join(dir, "status")
	if err := os.WriteFile(status, []byte("Package: a\n"), 0644); err != nil {
		t.Fatal(err)
	}

	target := &countingReloader{}
	reloaded := make(chan error, 4)
	w := NewWatcher(status, []Reloader{target},
		WithDebounce(100*time.Millisecond),
		WithOnReload(func(err error) { reloaded <- err }),
	)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	// A burst of writes collapses into one reload
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(status, []byte("Package: b\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case err := <-reloaded:
		if err != nil {
			t.Errorf("reload error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after status change")
	}

	time.Sleep(300 * time.Millisecond)
	if n := target.calls.Load(); n != 1 {
		t.Errorf("reloaded %d times, want 1", n)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	status := filepath.Join(dir, "status")

	target := &countingReloader{}
	w := NewWatcher(status, []Reloader{target}, WithDebounce(20*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "status-old"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if n := target.calls.Load(); n != 0 {
		t.Errorf("reloaded %d times for an unrelated file", n)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "status"), nil)
	w.Stop()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_StartFailsForMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing", "status"), nil)
	if err := w.Start(); err == nil {
		w.Stop()
		t.Fatal("expected error watching a missing directory")
	}
}
