package build

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-repack/broadcast"
	"go-repack/builddb"
	"go-repack/engine"
	"go-repack/log"
	"go-repack/pkg"
	"go-repack/progress"
)

// mockStore records persisted batches
type mockStore struct {
	mu      sync.Mutex
	batches [][]pkg.Artifact
	err     error
}

func (s *mockStore) PersistBuiltPackages(ctx context.Context, batch []pkg.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]pkg.Artifact(nil), batch...))
	return s.err
}

func (s *mockStore) calls() [][]pkg.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]pkg.Artifact(nil), s.batches...)
}

// mockRuns records run bookkeeping
type mockRuns struct {
	mu       sync.Mutex
	started  []string
	items    map[string][]*builddb.RunPackageRecord
	finished map[string]builddb.RunStats
	aborted  map[string]bool
}

func newMockRuns() *mockRuns {
	return &mockRuns{
		items:    make(map[string][]*builddb.RunPackageRecord),
		finished: make(map[string]builddb.RunStats),
		aborted:  make(map[string]bool),
	}
}

func (r *mockRuns) StartRun(runID string, startTime time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, runID)
	return nil
}

func (r *mockRuns) PutRunPackage(runID string, rec *builddb.RunPackageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[runID] = append(r.items[runID], rec)
	return nil
}

func (r *mockRuns) FinishRun(runID string, stats builddb.RunStats, endTime time.Time, aborted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[runID] = stats
	r.aborted[runID] = aborted
	return nil
}

type fixture struct {
	native   *engine.MockNative
	handle   *engine.Handle
	notifier *progress.Notifier
	store    *mockStore
	runs     *mockRuns
	logger   *log.MemoryLogger
	orch     *Orchestrator
	packages []*pkg.Package
}

func newFixture(t *testing.T, native *engine.MockNative) *fixture {
	t.Helper()

	logger := log.NewMemoryLogger()
	h := engine.Open(native, logger)
	t.Cleanup(func() { h.Close() })

	packages, err := h.ParsePackages(false)
	if err != nil {
		t.Fatalf("ParsePackages failed: %v", err)
	}
	t.Cleanup(func() { pkg.ReleaseAll(packages) })

	f := &fixture{
		native:   native,
		handle:   h,
		notifier: progress.NewNotifier(logger),
		store:    &mockStore{},
		runs:     newMockRuns(),
		logger:   logger,
		packages: packages,
	}
	f.orch = New(h, f.notifier, Options{
		OutputDir:   "/out",
		Compression: engine.DefaultCompression,
		Store:       f.store,
		Runs:        f.runs,
		Logger:      logger,
	})
	t.Cleanup(f.orch.Close)
	return f
}

// drain waits until every progress delivery, and with it the session's
// persistence step, has run.
func (f *fixture) drain() {
	f.notifier.Wait()
	f.orch.Changes().Wait()
}

func twoItemIndex() []map[string]string {
	return []map[string]string{
		engine.MockEntry("a", "1"),
		engine.MockEntry("b", "1"),
	}
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return Result{}
	}
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for o.State().Active() {
		if time.Now().After(deadline) {
			t.Fatal("session did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOrchestrator_MixedOutcome(t *testing.T) {
	f := newFixture(t, &engine.MockNative{
		Index:    twoItemIndex(),
		Failures: map[string]string{"b": "boom"},
	})

	var calls atomic.Int32
	done := make(chan Result, 2)
	f.orch.Rebuild(f.packages, func(r Result) {
		calls.Add(1)
		done <- r
	})

	r := waitResult(t, done)
	f.drain()

	if calls.Load() != 1 {
		t.Errorf("completion called %d times, want 1", calls.Load())
	}
	if r.State != Completed {
		t.Fatalf("State = %s, want completed (err %v)", r.State, r.Err)
	}
	if r.Summary != (Summary{Succeeded: 1, Failed: 1, Total: 2}) {
		t.Errorf("Summary = %+v", r.Summary)
	}

	a := r.Outcomes[pkg.Key{Identifier: "a", Version: "1"}]
	if !a.Succeeded || a.Output != "/out/a_1.deb" {
		t.Errorf("outcome a = %+v", a)
	}
	b := r.Outcomes[pkg.Key{Identifier: "b", Version: "1"}]
	if b.Succeeded || failureReason(b.Err) != "boom" {
		t.Errorf("outcome b = %+v", b)
	}

	batches := f.store.calls()
	if len(batches) != 1 {
		t.Fatalf("store called %d times, want 1", len(batches))
	}
	if len(batches[0]) != 1 || batches[0][0].Package.Key() != (pkg.Key{Identifier: "a", Version: "1"}) {
		t.Errorf("persisted batch = %v, want only a@1", batches[0])
	}

	if p := f.orch.Progress(); p != (Progress{Completed: 2, Total: 2}) {
		t.Errorf("Progress = %+v", p)
	}
	if f.orch.State() != Completed {
		t.Errorf("State() = %s after session", f.orch.State())
	}
	if f.notifier.Len() != 0 {
		t.Errorf("finished session still registered (%d subscribers)", f.notifier.Len())
	}
}

func TestOrchestrator_EmptyBatchIsSynchronous(t *testing.T) {
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex()})

	var got *Result
	f.orch.Rebuild(nil, func(r Result) { got = &r })

	if got == nil {
		t.Fatal("completion was not called synchronously")
	}
	if !errors.Is(got.Err, ErrEmptyBatch) {
		t.Errorf("Err = %v, want ErrEmptyBatch", got.Err)
	}
	if f.native.RebuildCalls() != 0 {
		t.Errorf("engine called %d times", f.native.RebuildCalls())
	}
	if f.orch.State() != Idle {
		t.Errorf("State() = %s, want idle", f.orch.State())
	}
}

func TestOrchestrator_BusyRejected(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex(), Gate: gate})

	first := make(chan Result, 1)
	f.orch.Rebuild(f.packages, func(r Result) { first <- r })

	if f.orch.State() != Building {
		t.Fatalf("State() = %s, want building", f.orch.State())
	}

	var second *Result
	f.orch.Rebuild(f.packages[:1], func(r Result) { second = &r })
	if second == nil {
		t.Fatal("busy completion was not called synchronously")
	}
	if !errors.Is(second.Err, ErrBusy) {
		t.Errorf("Err = %v, want ErrBusy", second.Err)
	}

	close(gate)
	r := waitResult(t, first)
	f.drain()

	if r.State != Completed || r.Summary.Total != 2 {
		t.Errorf("first session = %s %+v", r.State, r.Summary)
	}
	if f.native.Violations() != 0 {
		t.Errorf("engine entered concurrently %d times", f.native.Violations())
	}
	if f.native.RebuildCalls() != 1 {
		t.Errorf("engine called %d times, want 1", f.native.RebuildCalls())
	}
}

func TestOrchestrator_ConcurrentCallersSerialized(t *testing.T) {
	const callers = 32
	gate := make(chan struct{})
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex(), Gate: gate, Parallel: true})

	var (
		calls    [callers]atomic.Int32
		busy     atomic.Int32
		accepted = make(chan Result, callers)
		wg       sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.orch.Rebuild(f.packages, func(r Result) {
				calls[i].Add(1)
				if errors.Is(r.Err, ErrBusy) {
					busy.Add(1)
					return
				}
				accepted <- r
			})
		}(i)
	}
	wg.Wait()

	if got := busy.Load(); got != callers-1 {
		t.Fatalf("%d callers rejected as busy, want %d", got, callers-1)
	}

	close(gate)
	r := waitResult(t, accepted)
	f.drain()

	if r.State != Completed || r.Summary.Succeeded != 2 {
		t.Errorf("accepted session = %s %+v", r.State, r.Summary)
	}
	for i := range calls {
		if n := calls[i].Load(); n != 1 {
			t.Errorf("caller %d: completion called %d times", i, n)
		}
	}
	if f.native.Violations() != 0 {
		t.Errorf("engine entered concurrently %d times", f.native.Violations())
	}
	if f.native.RebuildCalls() != 1 {
		t.Errorf("engine called %d times, want 1", f.native.RebuildCalls())
	}
}

func TestOrchestrator_RejectsDetachedPackages(t *testing.T) {
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex()})

	// Progress events carry detached copies; they cannot be rebuilt
	snap, err := engine.Snapshot(pkg.StaticDetails{"Package": "a", "Version": "1"})
	if err != nil {
		t.Fatal(err)
	}
	handmade := pkg.New("b", "1", "", nil)

	for _, p := range []*pkg.Package{snap, handmade} {
		var got *Result
		f.orch.Rebuild([]*pkg.Package{p}, func(r Result) { got = &r })
		if got == nil {
			t.Fatalf("%s: completion was not called synchronously", p)
		}
		if !errors.Is(got.Err, engine.ErrNoNativeEntry) || got.State != Idle {
			t.Errorf("%s: result = %s %v, want idle with ErrNoNativeEntry", p, got.State, got.Err)
		}
		if f.orch.State() != Idle {
			t.Errorf("%s: State() = %s after rejection", p, f.orch.State())
		}
	}
	if f.native.RebuildCalls() != 0 {
		t.Error("engine called for rejected batch")
	}
}

func TestOrchestrator_ClosedHandleIsNotFailure(t *testing.T) {
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex()})
	if err := f.handle.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := f.orch.RebuildAndWait(context.Background(), f.packages)
	if !errors.Is(err, engine.ErrHandleClosed) {
		t.Fatalf("err = %v, want ErrHandleClosed", err)
	}
	if r.State != Idle || f.orch.State() != Idle {
		t.Errorf("state = %s/%s, want idle", r.State, f.orch.State())
	}
	if len(f.store.calls()) != 0 {
		t.Error("persistence invoked for a refused batch")
	}
	f.runs.mu.Lock()
	aborted := f.runs.aborted[r.SessionID]
	f.runs.mu.Unlock()
	if !aborted {
		t.Error("refused session not recorded as aborted")
	}

	// The orchestrator accepts new work afterwards
	var got *Result
	f.orch.Rebuild(nil, func(r Result) { got = &r })
	if got == nil || !errors.Is(got.Err, ErrEmptyBatch) {
		t.Errorf("empty batch after refusal = %+v", got)
	}
}

func TestOrchestrator_SequentialSessions(t *testing.T) {
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex(), Parallel: true})

	for i := 0; i < 3; i++ {
		r, err := f.orch.RebuildAndWait(context.Background(), f.packages)
		if err != nil {
			t.Fatalf("session %d: %v", i, err)
		}
		f.drain()
		if r.State != Completed || r.Summary.Succeeded != 2 {
			t.Errorf("session %d = %s %+v", i, r.State, r.Summary)
		}
	}

	if n := len(f.store.calls()); n != 3 {
		t.Errorf("store called %d times, want 3", n)
	}
	if f.native.Violations() != 0 {
		t.Errorf("engine entered concurrently %d times", f.native.Violations())
	}
}

func TestOrchestrator_Catastrophic(t *testing.T) {
	f := newFixture(t, &engine.MockNative{
		Index:      twoItemIndex(),
		RebuildErr: errors.New("engine crashed"),
	})

	done := make(chan Result, 1)
	f.orch.Rebuild(f.packages, func(r Result) { done <- r })
	r := waitResult(t, done)
	f.drain()

	if r.State != Failed {
		t.Fatalf("State = %s, want failed", r.State)
	}
	if !engine.IsCatastrophic(r.Err) {
		t.Errorf("Err = %v, want catastrophic", r.Err)
	}
	if len(r.Artifacts) != 0 {
		t.Errorf("failed session carries %d artifacts", len(r.Artifacts))
	}
	if len(r.Outcomes) != 2 {
		t.Errorf("outcomes of delivered items lost: %v", r.Outcomes)
	}
	if n := len(f.store.calls()); n != 0 {
		t.Errorf("store called %d times on failure", n)
	}
	if f.orch.State() != Failed {
		t.Errorf("State() = %s, want failed", f.orch.State())
	}

	// Failed is not terminal
	f.native.RebuildErr = nil
	if _, err := f.orch.RebuildAndWait(context.Background(), f.packages); err != nil {
		t.Errorf("rebuild after failure: %v", err)
	}
}

func TestOrchestrator_PersistFailure(t *testing.T) {
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex()})
	f.store.err = errors.New("disk full")

	var changes atomic.Int32
	f.orch.Changes().Register(broadcast.Func(func(DataChanged) error {
		changes.Add(1)
		return nil
	}))

	r, err := f.orch.RebuildAndWait(context.Background(), f.packages)
	if err != nil {
		t.Fatalf("RebuildAndWait: %v", err)
	}
	f.drain()

	if r.State != Completed {
		t.Errorf("State = %s, want completed", r.State)
	}
	if r.PersistErr == nil || r.OK() {
		t.Errorf("PersistErr = %v, want disk full", r.PersistErr)
	}
	if changes.Load() != 0 {
		t.Errorf("data-changed published %d times after persist failure", changes.Load())
	}
	if !f.logger.HasMessageWithSeverity(log.SeverityError, "disk full") {
		t.Error("persist failure not logged")
	}
}

func TestOrchestrator_DataChangedAfterCompletion(t *testing.T) {
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex()})

	var mu sync.Mutex
	var got []DataChanged
	var stateAtSignal State
	f.orch.Changes().Register(broadcast.Func(func(e DataChanged) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		stateAtSignal = f.orch.State()
		return nil
	}))

	r, err := f.orch.RebuildAndWait(context.Background(), f.packages)
	if err != nil {
		t.Fatal(err)
	}
	f.drain()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("data-changed published %d times, want 1", len(got))
	}
	if got[0].SessionID != r.SessionID || got[0].Artifacts != 2 {
		t.Errorf("DataChanged = %+v", got[0])
	}
	if stateAtSignal != Completed {
		t.Errorf("state at signal = %s, want completed", stateAtSignal)
	}
}

func TestOrchestrator_RebuildAndWaitTimeout(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex(), Gate: gate})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.orch.RebuildAndWait(ctx, f.packages)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if !f.orch.State().Active() {
		t.Errorf("session stopped on caller timeout: %s", f.orch.State())
	}

	close(gate)
	waitIdle(t, f.orch)
	f.drain()

	last, ok := f.orch.Last()
	if !ok || last.State != Completed {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestOrchestrator_RejectsCachedAndDeduplicates(t *testing.T) {
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex()})

	cached := pkg.New("c", "1", "", nil)
	cached.Origin = pkg.Cached

	var got *Result
	f.orch.Rebuild([]*pkg.Package{f.packages[0], cached}, func(r Result) { got = &r })
	if got == nil || !errors.Is(got.Err, engine.ErrNoNativeEntry) {
		t.Fatalf("result = %+v, want ErrNoNativeEntry", got)
	}
	if f.native.RebuildCalls() != 0 {
		t.Error("engine called for rejected batch")
	}

	dup := append(append([]*pkg.Package(nil), f.packages...), f.packages...)
	r, err := f.orch.RebuildAndWait(context.Background(), dup)
	if err != nil {
		t.Fatal(err)
	}
	if r.Summary.Total != 2 {
		t.Errorf("Total = %d, want 2 after dedupe", r.Summary.Total)
	}
}

func TestOrchestrator_RecordsRun(t *testing.T) {
	f := newFixture(t, &engine.MockNative{
		Index:    twoItemIndex(),
		Failures: map[string]string{"a": "no files"},
	})

	r, err := f.orch.RebuildAndWait(context.Background(), f.packages)
	if err != nil {
		t.Fatal(err)
	}
	f.drain()

	f.runs.mu.Lock()
	defer f.runs.mu.Unlock()

	if len(f.runs.started) != 1 || f.runs.started[0] != r.SessionID {
		t.Errorf("started runs = %v", f.runs.started)
	}
	items := f.runs.items[r.SessionID]
	if len(items) != 2 {
		t.Fatalf("recorded %d run packages, want 2", len(items))
	}
	for _, rec := range items {
		switch rec.Identifier {
		case "a":
			if rec.Status != builddb.RunStatusFailed || rec.Reason != "no files" {
				t.Errorf("record a = %+v", rec)
			}
		case "b":
			if rec.Status != builddb.RunStatusSuccess || rec.Output != "/out/b_1.deb" {
				t.Errorf("record b = %+v", rec)
			}
		}
	}
	want := builddb.RunStats{Total: 2, Success: 1, Failed: 1}
	if f.runs.finished[r.SessionID] != want {
		t.Errorf("finished stats = %+v, want %+v", f.runs.finished[r.SessionID], want)
	}
	if f.runs.aborted[r.SessionID] {
		t.Error("completed run marked aborted")
	}
}

func TestOrchestrator_SharedNotifierSubscribers(t *testing.T) {
	f := newFixture(t, &engine.MockNative{Index: twoItemIndex()})

	var finished atomic.Int32
	observer := progress.NewFuncs()
	observer.Finished = func(*pkg.Package, string, error) { finished.Add(1) }
	f.notifier.Register(observer)

	if _, err := f.orch.RebuildAndWait(context.Background(), f.packages); err != nil {
		t.Fatal(err)
	}
	f.drain()

	if finished.Load() != 2 {
		t.Errorf("observer saw %d finished items, want 2", finished.Load())
	}
	if !f.notifier.Registered(observer) {
		t.Error("observer was detached by the session")
	}
	if f.notifier.Len() != 1 {
		t.Errorf("notifier has %d subscribers, want only the observer", f.notifier.Len())
	}
}
