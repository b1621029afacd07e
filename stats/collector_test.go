package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-repack/pkg"
)

// TestRateCalculation verifies rate calculation from ring buffer
func TestRateCalculation(t *testing.T) {
	tests := []struct {
		name     string
		buckets  [60]int
		expected float64
	}{
		{
			name:     "empty buckets",
			buckets:  [60]int{},
			expected: 0.0,
		},
		{
			name: "burst in one bucket",
			buckets: func() [60]int {
				var b [60]int
				b[0] = 10
				return b
			}(),
			expected: 600.0,
		},
		{
			name: "sustained 1 per second",
			buckets: func() [60]int {
				var b [60]int
				for i := 0; i < 60; i++ {
					b[i] = 1
				}
				return b
			}(),
			expected: 3600.0,
		},
		{
			name: "varying rates",
			buckets: func() [60]int {
				var b [60]int
				b[0] = 5
				b[10] = 3
				b[20] = 2
				b[59] = 1
				return b
			}(),
			expected: 660.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &StatsCollector{rateBuckets: tt.buckets}
			if rate := sc.calculateRateLocked(); rate != tt.expected {
				t.Errorf("calculateRateLocked() = %.1f, want %.1f", rate, tt.expected)
			}
		})
	}
}

// TestImpulseTracking verifies impulse reflects previous bucket
func TestImpulseTracking(t *testing.T) {
	sc := NewStatsCollector(context.Background(), 10)
	defer sc.Close()

	for i := 0; i < 5; i++ {
		sc.RecordCompletion(BuildSuccess)
	}

	sc.mu.RLock()
	currentIdx := sc.currentBucket
	currentCount := sc.rateBuckets[currentIdx]
	sc.mu.RUnlock()
	if currentCount != 5 {
		t.Errorf("current bucket = %d, want 5", currentCount)
	}

	// Simulate 1 second passing
	sc.mu.Lock()
	sc.bucketStart = sc.bucketStart.Add(-1 * time.Second)
	sc.mu.Unlock()
	sc.tick()

	if snapshot := sc.GetSnapshot(); snapshot.Impulse != 5.0 {
		t.Errorf("impulse = %.1f, want 5.0", snapshot.Impulse)
	}

	sc.mu.RLock()
	newIdx := sc.currentBucket
	sc.mu.RUnlock()
	if newIdx != (currentIdx+1)%60 {
		t.Errorf("current bucket index = %d, want %d", newIdx, (currentIdx+1)%60)
	}
}

// TestBucketAdvanceMultiSecondGap verifies handling of long pauses
func TestBucketAdvanceMultiSecondGap(t *testing.T) {
	sc := NewStatsCollector(context.Background(), 0)
	defer sc.Close()

	sc.mu.Lock()
	for i := 0; i < 60; i++ {
		sc.rateBuckets[i] = 1
	}
	sc.currentBucket = 59
	sc.bucketStart = time.Now().Add(-5 * time.Second)
	sc.advanceBucketLocked(time.Now())
	current := sc.currentBucket
	cleared := sc.rateBuckets[0] + sc.rateBuckets[1] + sc.rateBuckets[2] + sc.rateBuckets[3] + sc.rateBuckets[4]
	sc.mu.Unlock()

	if current != 4 {
		t.Errorf("currentBucket = %d, want 4 after wrapping 5 buckets", current)
	}
	if cleared != 0 {
		t.Errorf("entered buckets not cleared (sum %d)", cleared)
	}
}

// TestRemainingCalculation verifies Remaining = Queued - (Built + Failed)
func TestRemainingCalculation(t *testing.T) {
	sc := NewStatsCollector(context.Background(), 5)
	defer sc.Close()

	sc.RecordCompletion(BuildSuccess)
	sc.RecordCompletion(BuildSuccess)
	sc.RecordCompletion(BuildFailed)

	snap := sc.GetSnapshot()
	if snap.Built != 2 || snap.Failed != 1 || snap.Remaining != 2 {
		t.Errorf("snapshot = %+v, want built 2 failed 1 remaining 2", snap)
	}
	if snap.Done() != 3 {
		t.Errorf("Done() = %d", snap.Done())
	}

	sc.UpdateQueuedCount(2)
	if r := sc.GetSnapshot().Remaining; r != 0 {
		t.Errorf("Remaining never goes negative, got %d", r)
	}
}

// TestProgressSubscriber drives the collector through progress events
func TestProgressSubscriber(t *testing.T) {
	sc := NewStatsCollector(context.Background(), 2)
	defer sc.Close()

	consumer := &mockConsumer{}
	sc.AddConsumer(consumer)

	a := pkg.New("a", "1", "", nil)
	b := pkg.New("b", "1", "", nil)

	sc.OnItemStarted(a)
	sc.OnItemStarted(b)
	if active := sc.GetSnapshot().Active; active != 2 {
		t.Errorf("Active = %d, want 2", active)
	}

	sc.OnItemFinished(a, "/out/a.deb", nil)
	sc.OnItemFinished(b, "", errors.New("boom"))
	sc.OnBatchFinished()

	last, ok := consumer.last()
	if !ok {
		t.Fatal("batch-finished did not notify consumers")
	}
	if last.Active != 0 || last.Built != 1 || last.Failed != 1 || last.Remaining != 0 {
		t.Errorf("final snapshot = %+v", last)
	}
	if last.Rate != 120.0 {
		t.Errorf("Rate = %.1f, want 120.0", last.Rate)
	}
}

// TestElapsedTime verifies elapsed is updated on tick
func TestElapsedTime(t *testing.T) {
	sc := NewStatsCollector(context.Background(), 1)
	defer sc.Close()

	sc.mu.Lock()
	sc.startTime = time.Now().Add(-90 * time.Second)
	sc.mu.Unlock()
	sc.tick()

	if e := sc.GetSnapshot().Elapsed; e < 90*time.Second || e > 95*time.Second {
		t.Errorf("Elapsed = %v, want ~90s", e)
	}
}

// TestConsumerNotification verifies the sampling loop reaches consumers
func TestConsumerNotification(t *testing.T) {
	sc := NewStatsCollector(context.Background(), 1)
	defer sc.Close()

	consumer := &mockConsumer{}
	sc.AddConsumer(consumer)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := consumer.last(); ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("consumer never notified by the 1 Hz loop")
}

// TestCloseStopsLoop verifies context cancellation ends the loop
func TestCloseStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sc := NewStatsCollector(ctx, 0)
	cancel()

	done := make(chan struct{})
	go func() {
		sc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

// TestConcurrentAccess verifies thread safety under concurrent updates
func TestConcurrentAccess(t *testing.T) {
	sc := NewStatsCollector(context.Background(), 400)
	defer sc.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(status BuildStatus) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sc.RecordCompletion(status)
				sc.GetSnapshot()
			}
		}(BuildStatus(i % 2))
	}
	wg.Wait()

	snap := sc.GetSnapshot()
	if snap.Built != 200 || snap.Failed != 200 {
		t.Errorf("snapshot = %+v, want 200/200", snap)
	}
}

type mockConsumer struct {
	mu      sync.Mutex
	updates []TopInfo
}

func (mc *mockConsumer) OnStatsUpdate(info TopInfo) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.updates = append(mc.updates, info)
}

func (mc *mockConsumer) last() (TopInfo, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if len(mc.updates) == 0 {
		return TopInfo{}, false
	}
	return mc.updates[len(mc.updates)-1], true
}
