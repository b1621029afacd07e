// Package build runs rebuild sessions: it drives the engine handle off the
// caller's goroutine, collects per-item outcomes from progress events,
// persists the built archives as one batch and reports the session result.
package build

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go-repack/broadcast"
	"go-repack/builddb"
	"go-repack/config"
	"go-repack/engine"
	"go-repack/log"
	"go-repack/pkg"
	"go-repack/progress"
)

// Engine is the part of engine.Handle the orchestrator drives
type Engine interface {
	Rebuild(items []*pkg.Package, outDir string, prefs engine.Compression, receiver engine.Receiver) error
}

// Store persists built archives
type Store interface {
	PersistBuiltPackages(ctx context.Context, batch []pkg.Artifact) error
}

// RunRecorder records sessions as runs (builddb.DB implements it)
type RunRecorder interface {
	StartRun(runID string, startTime time.Time) error
	PutRunPackage(runID string, rec *builddb.RunPackageRecord) error
	FinishRun(runID string, stats builddb.RunStats, endTime time.Time, aborted bool) error
}

// ResultLogger receives per-item results (log.Logger implements it)
type ResultLogger interface {
	Success(id string)
	Failed(id, reason string)
	WriteSummary(session string, total, success, failed int, duration time.Duration)
}

// Options configures an Orchestrator. Store is required.
type Options struct {
	OutputDir      string
	Compression    engine.Compression
	Store          Store
	Runs           RunRecorder
	Results        ResultLogger
	SessionLogs    *config.Config // per-session log files under LogsPath when set
	PersistTimeout time.Duration  // 0 means no limit
	Logger         log.LibraryLogger
}

// Orchestrator is the single serialization point in front of the engine
// handle: at most one session is Building or Persisting at any time.
type Orchestrator struct {
	engine   Engine
	notifier *progress.Notifier
	opts     Options
	logger   log.LibraryLogger
	changes  *broadcast.Broadcaster[DataChanged]

	mu      sync.Mutex
	state   State
	session *session
	last    *Result
}

// New creates an orchestrator. Events of the engine are received through
// notifier, which other subscribers may share.
func New(eng Engine, notifier *progress.Notifier, opts Options) *Orchestrator {
	logger := log.OrNoOp(opts.Logger)
	return &Orchestrator{
		engine:   eng,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		changes: broadcast.New[DataChanged](
			broadcast.WithName("data-changed"),
			broadcast.WithErrorHandler(func(err *broadcast.DeliveryError) {
				logger.Error("%v", err)
			}),
		),
	}
}

// Changes is the data-changed broadcaster
func (o *Orchestrator) Changes() *broadcast.Broadcaster[DataChanged] {
	return o.changes
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the identifier of the running session, or "" when idle
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.id
}

// Progress returns the progress of the running session, or of the last
// finished one.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	s, last := o.session, o.last
	o.mu.Unlock()

	if s != nil {
		return s.currentProgress()
	}
	if last != nil {
		return Progress{Completed: last.Summary.Succeeded + last.Summary.Failed, Total: last.Summary.Total}
	}
	return Progress{}
}

// Last returns the result of the last finished session
func (o *Orchestrator) Last() (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Result{}, false
	}
	return *o.last, true
}

// Rebuild starts a session and returns immediately. completion is invoked
// exactly once: synchronously when the call is rejected (empty batch, busy,
// items without a native index entry), otherwise from a background
// goroutine when the session ends. completion must not wait on the
// progress notifier.
//
// A session ends in Completed, in Failed when the native call fails as a
// whole, or back in Idle with Result.Err set when the engine handle refuses
// the batch before entering the native engine (closed or already running).
func (o *Orchestrator) Rebuild(items []*pkg.Package, completion Completion) {
	if completion == nil {
		completion = func(Result) {}
	}
	if len(items) == 0 {
		completion(Result{State: o.State(), Err: ErrEmptyBatch})
		return
	}
	requested, err := dedupe(items)
	if err != nil {
		completion(Result{State: o.State(), Err: err})
		return
	}

	o.mu.Lock()
	if o.state.Active() {
		state := o.state
		o.mu.Unlock()
		o.logger.Warn("Rebuild rejected: %v", ErrBusy)
		completion(Result{State: state, Err: ErrBusy})
		return
	}
	s := o.newSession(requested, completion)
	o.session = s
	o.state = Building
	o.mu.Unlock()

	o.logger.Info("Rebuild session %s started with %d packages", s.id, len(requested))
	o.notifier.Register(s)
	o.recordStart(s)
	go s.run()
}

// RebuildAndWait runs Rebuild and waits for the result or ctx. On ctx
// expiry it returns ctx.Err(); the session keeps running because the
// engine cannot be interrupted.
func (o *Orchestrator) RebuildAndWait(ctx context.Context, items []*pkg.Package) (Result, error) {
	done := make(chan Result, 1)
	o.Rebuild(items, func(r Result) { done <- r })

	select {
	case r := <-done:
		return r, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close detaches every data-changed subscriber
func (o *Orchestrator) Close() {
	o.changes.Close()
}

func dedupe(items []*pkg.Package) ([]*pkg.Package, error) {
	seen := make(map[pkg.Key]bool, len(items))
	out := make([]*pkg.Package, 0, len(items))
	for _, p := range items {
		if p == nil {
			return nil, fmt.Errorf("nil package: %w", engine.ErrNoNativeEntry)
		}
		if err := engine.CanRebuild(p); err != nil {
			return nil, fmt.Errorf("%s is %s: %w", p, p.Origin, err)
		}
		if seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		out = append(out, p)
	}
	return out, nil
}

// transition moves the session from one state to another if it is still
// the current session in state from.
func (o *Orchestrator) transition(s *session, from, to State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != s || o.state != from {
		return false
	}
	o.state = to
	return true
}

func (o *Orchestrator) persist(s *session) {
	if !o.transition(s, Building, Persisting) {
		return
	}
	o.notifier.Unregister(s)

	artifacts := s.artifactList()
	ctx := context.Background()
	if o.opts.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.PersistTimeout)
		defer cancel()
	}

	err := o.opts.Store.PersistBuiltPackages(ctx, artifacts)
	if err != nil {
		o.logger.Error("Persisting %d artifacts of session %s failed: %v", len(artifacts), s.id, err)
		s.logError(fmt.Sprintf("persistence failed: %v", err))
	} else {
		o.logger.Debug("Persisted %d artifacts of session %s", len(artifacts), s.id)
	}

	o.finish(s, Completed, nil, err)

	if err == nil {
		o.changes.Publish(DataChanged{SessionID: s.id, Artifacts: len(artifacts)})
	}
}

func (o *Orchestrator) fail(s *session, err error) {
	o.logger.Error("Rebuild session %s failed: %v", s.id, err)
	s.logError(err.Error())
	o.finish(s, Failed, err, nil)
}

// refuse ends a session the engine handle never started
func (o *Orchestrator) refuse(s *session, err error) {
	o.logger.Warn("Rebuild session %s refused by the engine: %v", s.id, err)
	s.logError(err.Error())
	o.finish(s, Idle, err, nil)
}

func (o *Orchestrator) finish(s *session, state State, err, persistErr error) {
	s.finishOnce.Do(func() {
		result := s.result(state, err, persistErr)

		o.mu.Lock()
		if o.session == s {
			o.session = nil
			o.state = state
		}
		o.last = &result
		o.mu.Unlock()

		o.notifier.Unregister(s)
		o.recordFinish(s, result)
		o.logger.Info("Rebuild session %s %s: %d succeeded, %d failed",
			s.id, state, result.Summary.Succeeded, result.Summary.Failed)

		s.completion(result)
	})
}

func (o *Orchestrator) recordStart(s *session) {
	if o.opts.Runs != nil {
		if err := o.opts.Runs.StartRun(s.id, s.start); err != nil {
			o.logger.Warn("Failed to record run %s: %v", s.id, err)
		}
	}
	if s.log != nil {
		ids := make([]string, len(s.requested))
		for i, p := range s.requested {
			ids[i] = p.String()
		}
		s.log.WriteHeader(ids)
	}
}

func (o *Orchestrator) recordItem(s *session, p *pkg.Package, output string, err error) {
	status, reason := builddb.RunStatusSuccess, ""
	if err != nil {
		status, reason = builddb.RunStatusFailed, failureReason(err)
	}

	if o.opts.Results != nil {
		if err != nil {
			o.opts.Results.Failed(p.String(), reason)
		} else {
			o.opts.Results.Success(p.String())
		}
	}
	if s.log != nil {
		if err != nil {
			s.log.WriteFailure(p.String(), reason)
		} else {
			s.log.WriteSuccess(p.String(), output)
		}
	}
	if o.opts.Runs != nil {
		rec := &builddb.RunPackageRecord{
			Identifier: p.Identifier,
			Version:    p.Version,
			Status:     status,
			Output:     output,
			Reason:     reason,
			EndTime:    time.Now(),
		}
		if err := o.opts.Runs.PutRunPackage(s.id, rec); err != nil {
			o.logger.Warn("Failed to record %s in run %s: %v", p, s.id, err)
		}
	}
}

func (o *Orchestrator) recordFinish(s *session, r Result) {
	sum := r.Summary
	if o.opts.Runs != nil {
		stats := builddb.RunStats{Total: sum.Total, Success: sum.Succeeded, Failed: sum.Failed}
		if err := o.opts.Runs.FinishRun(s.id, stats, time.Now(), r.Err != nil); err != nil {
			o.logger.Warn("Failed to finish run %s: %v", s.id, err)
		}
	}
	if o.opts.Results != nil {
		o.opts.Results.WriteSummary(s.id, sum.Total, sum.Succeeded, sum.Failed, r.Duration)
	}
	if s.log != nil {
		s.log.WriteFooter(r.State.String(), sum.Succeeded, sum.Failed, r.Duration)
		s.log.Close()
	}
}

func failureReason(err error) string {
	var ierr *ItemError
	if errors.As(err, &ierr) {
		return ierr.Reason
	}
	return err.Error()
}

// session is the progress subscriber of one rebuild
type session struct {
	broadcast.Identity

	o          *Orchestrator
	id         string
	requested  []*pkg.Package
	start      time.Time
	completion Completion
	log        *log.SessionLogger

	mu        sync.Mutex
	progress  Progress
	outcomes  map[pkg.Key]Outcome
	artifacts []pkg.Artifact

	nativeDone chan struct{}
	nativeErr  error // valid once nativeDone is closed
	batchSeen  atomic.Bool
	finishOnce sync.Once
}

var _ progress.Subscriber = (*session)(nil)

func (o *Orchestrator) newSession(requested []*pkg.Package, completion Completion) *session {
	s := &session{
		Identity:   broadcast.NewIdentity(),
		o:          o,
		id:         uuid.New().String(),
		requested:  requested,
		start:      time.Now(),
		completion: completion,
		progress:   Progress{Total: len(requested)},
		outcomes:   make(map[pkg.Key]Outcome, len(requested)),
		nativeDone: make(chan struct{}),
	}
	if o.opts.SessionLogs != nil {
		s.log = log.NewSessionLogger(o.opts.SessionLogs, s.id)
	}
	return s
}

// run performs the blocking engine call
func (s *session) run() {
	o := s.o
	err := o.engine.Rebuild(s.requested, o.opts.OutputDir, o.opts.Compression, o.notifier)
	s.nativeErr = err
	close(s.nativeDone)

	if err == nil {
		return // OnBatchFinished persists
	}

	// Let already published item events reach the session first
	o.notifier.Wait()
	if !engine.IsCatastrophic(err) {
		o.refuse(s, err)
		return
	}
	o.fail(s, err)
}

func (s *session) OnItemStarted(p *pkg.Package) {
	s.o.logger.Debug("Rebuilding %s", p)
	if s.log != nil {
		s.log.WriteStarted(p.String())
	}
}

func (s *session) OnItemFinished(p *pkg.Package, output string, err error) {
	s.mu.Lock()
	s.progress.Completed++
	switch {
	case err != nil:
		s.outcomes[p.Key()] = Outcome{Err: err}
	case output == "":
		s.outcomes[p.Key()] = Outcome{Succeeded: true}
	default:
		s.outcomes[p.Key()] = Outcome{Succeeded: true, Output: output}
		s.artifacts = append(s.artifacts, pkg.Artifact{Package: p, Path: output})
	}
	s.mu.Unlock()

	if err != nil {
		s.o.logger.Warn("Rebuild of %s failed: %s", p, failureReason(err))
	} else if output == "" {
		s.o.logger.Warn("Rebuild of %s reported no archive", p)
	}
	s.o.recordItem(s, p, output, err)
}

func (s *session) OnBatchFinished() {
	if !s.batchSeen.CompareAndSwap(false, true) {
		return
	}
	<-s.nativeDone
	if s.nativeErr != nil {
		return // run fails the session
	}
	s.o.persist(s)
}

func (s *session) currentProgress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *session) artifactList() []pkg.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pkg.Artifact(nil), s.artifacts...)
}

func (s *session) logError(msg string) {
	if s.log != nil {
		s.log.WriteError(msg)
	}
}

func (s *session) result(state State, err, persistErr error) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Result{
		SessionID:  s.id,
		State:      state,
		Outcomes:   make(map[pkg.Key]Outcome, len(s.outcomes)),
		Duration:   time.Since(s.start),
		Err:        err,
		PersistErr: persistErr,
	}
	for k, v := range s.outcomes {
		r.Outcomes[k] = v
		if v.Succeeded {
			r.Summary.Succeeded++
		} else {
			r.Summary.Failed++
		}
	}
	r.Summary.Total = len(s.requested)
	if state == Completed {
		r.Artifacts = append([]pkg.Artifact(nil), s.artifacts...)
	}
	return r
}
