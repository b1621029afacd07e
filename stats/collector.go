// Package stats - StatsCollector implementation
package stats

import (
	"context"
	"sync"
	"time"

	"go-repack/broadcast"
	"go-repack/pkg"
	"go-repack/progress"
)

var _ progress.Subscriber = (*StatsCollector)(nil)

// StatsCollector collects real-time rebuild statistics with 1 Hz sampling.
// It maintains a 60-second sliding window for rate calculation and notifies
// registered consumers on each tick.
//
// It is a progress.Subscriber: register it with the notifier of a session.
// Thread-safe for concurrent access from event delivery and the sampling
// goroutine.
type StatsCollector struct {
	broadcast.Identity

	mu            sync.RWMutex
	topInfo       TopInfo         // Current snapshot
	rateBuckets   [60]int         // Ring buffer: 1-second buckets for rate calculation
	currentBucket int             // Current bucket index (0-59)
	bucketStart   time.Time       // Start time of current bucket
	startTime     time.Time       // Session start timestamp
	ticker        *time.Ticker    // 1 Hz sampling ticker
	consumers     []StatsConsumer // Registered consumers
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewStatsCollector creates a new StatsCollector and starts the 1 Hz sampling loop.
// The collector runs until Close() is called or the context is cancelled.
//
// queued is the number of items in the session.
func NewStatsCollector(ctx context.Context, queued int) *StatsCollector {
	collectorCtx, cancel := context.WithCancel(ctx)
	now := time.Now()

	sc := &StatsCollector{
		Identity: broadcast.NewIdentity(),
		topInfo: TopInfo{
			Queued:    queued,
			Remaining: queued,
			StartTime: now,
		},
		bucketStart: now,
		startTime:   now,
		ticker:      time.NewTicker(1 * time.Second),
		ctx:         collectorCtx,
		cancel:      cancel,
	}

	sc.wg.Add(1)
	go sc.run()

	return sc
}

// RecordCompletion records a finished item.
// Updates the current rate bucket and totals based on status.
func (sc *StatsCollector) RecordCompletion(status BuildStatus) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	// Ensure bucket is current (handles clock skew)
	sc.advanceBucketLocked(time.Now())

	switch status {
	case BuildSuccess:
		sc.topInfo.Built++
	case BuildFailed:
		sc.topInfo.Failed++
	}
	sc.topInfo.Remaining = sc.remainingLocked()

	sc.rateBuckets[sc.currentBucket]++
}

// UpdateQueuedCount updates the total queued item count.
func (sc *StatsCollector) UpdateQueuedCount(queued int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.topInfo.Queued = queued
	sc.topInfo.Remaining = sc.remainingLocked()
}

// GetSnapshot returns a thread-safe copy of the current TopInfo.
func (sc *StatsCollector) GetSnapshot() TopInfo {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.topInfo
}

// AddConsumer registers a stats consumer to receive updates on each tick.
// Consumers are notified in registration order.
func (sc *StatsCollector) AddConsumer(consumer StatsConsumer) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.consumers = append(sc.consumers, consumer)
}

// Close stops the sampling loop and waits for cleanup.
func (sc *StatsCollector) Close() error {
	sc.cancel()
	sc.ticker.Stop()
	sc.wg.Wait()
	return nil
}

// OnItemStarted implements progress.Subscriber
func (sc *StatsCollector) OnItemStarted(p *pkg.Package) {
	sc.mu.Lock()
	sc.topInfo.Active++
	sc.mu.Unlock()
}

// OnItemFinished implements progress.Subscriber
func (sc *StatsCollector) OnItemFinished(p *pkg.Package, output string, err error) {
	sc.mu.Lock()
	if sc.topInfo.Active > 0 {
		sc.topInfo.Active--
	}
	sc.mu.Unlock()

	if err != nil {
		sc.RecordCompletion(BuildFailed)
		return
	}
	sc.RecordCompletion(BuildSuccess)
}

// OnBatchFinished implements progress.Subscriber. Consumers receive a
// final snapshot immediately instead of waiting for the next tick.
func (sc *StatsCollector) OnBatchFinished() {
	sc.tick()
}

// run is the 1 Hz sampling loop (goroutine).
func (sc *StatsCollector) run() {
	defer sc.wg.Done()

	for {
		select {
		case <-sc.ticker.C:
			sc.tick()
		case <-sc.ctx.Done():
			return
		}
	}
}

// tick performs a single sampling iteration.
func (sc *StatsCollector) tick() {
	now := time.Now()

	sc.mu.Lock()

	sc.advanceBucketLocked(now)
	sc.topInfo.Elapsed = now.Sub(sc.startTime)
	sc.topInfo.Rate = sc.calculateRateLocked()

	// Impulse: completions in previous bucket
	prevBucket := (sc.currentBucket + 59) % 60
	sc.topInfo.Impulse = float64(sc.rateBuckets[prevBucket])

	sc.topInfo.Remaining = sc.remainingLocked()

	snapshot := sc.topInfo
	consumers := sc.consumers

	sc.mu.Unlock()

	// Notify consumers outside the lock
	for _, consumer := range consumers {
		consumer.OnStatsUpdate(snapshot)
	}
}

func (sc *StatsCollector) remainingLocked() int {
	r := sc.topInfo.Queued - (sc.topInfo.Built + sc.topInfo.Failed)
	if r < 0 {
		return 0
	}
	return r
}

// advanceBucketLocked advances the bucket index, handling multi-second gaps.
// Must be called with lock held.
func (sc *StatsCollector) advanceBucketLocked(now time.Time) {
	elapsed := now.Sub(sc.bucketStart)

	for elapsed >= time.Second {
		sc.currentBucket = (sc.currentBucket + 1) % 60
		sc.rateBuckets[sc.currentBucket] = 0
		sc.bucketStart = sc.bucketStart.Add(time.Second)
		elapsed = now.Sub(sc.bucketStart)
	}
}

// calculateRateLocked calculates packages/hour from the 60-second window.
// Must be called with lock held.
func (sc *StatsCollector) calculateRateLocked() float64 {
	sum := 0
	for _, count := range sc.rateBuckets {
		sum += count
	}

	// (completions in 60s) * 60 min/hr
	return float64(sum * 60)
}
