package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// recorder captures delivered events in order
type recorder struct {
	Identity
	mu     sync.Mutex
	events []int
	delay  time.Duration
}

func newRecorder() *recorder {
	return &recorder{Identity: NewIdentity()}
}

func (r *recorder) Receive(e int) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) got() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.events))
	copy(out, r.events)
	return out
}

func TestRegisterIsIdempotent(t *testing.T) {
	b := New[int]()
	r := newRecorder()

	if !b.Register(r) {
		t.Fatal("first Register should report true")
	}
	if b.Register(r) {
		t.Error("second Register of same identity should report false")
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}

	b.Publish(7)
	b.Wait()

	if got := r.got(); len(got) != 1 {
		t.Errorf("duplicate registration caused %d deliveries, want 1", len(got))
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	b := New[int]()
	r := newRecorder()
	b.Register(r)

	if !b.Unregister(r) {
		t.Error("Unregister of registered subscriber should report true")
	}
	if b.Unregister(r) {
		t.Error("Unregister of absent subscriber should report false")
	}

	b.Publish(1)
	b.Wait()
	if got := r.got(); len(got) != 0 {
		t.Errorf("unregistered subscriber received %v", got)
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	b := New[int]()
	slow := newRecorder()
	slow.delay = 50 * time.Millisecond
	b.Register(slow)

	start := time.Now()
	for i := 0; i < 10; i++ {
		b.Publish(i)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("Publish blocked for %v", elapsed)
	}

	b.Wait()
	if got := slow.got(); len(got) != 10 {
		t.Errorf("slow subscriber got %d events, want 10", len(got))
	}
}

func TestFailingSubscriberDoesNotAffectOthers(t *testing.T) {
	var mu sync.Mutex
	var reported []*DeliveryError

	b := New[int](WithName("test"), WithErrorHandler(func(err *DeliveryError) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))

	failing := Func(func(int) error { return errors.New("boom") })
	panicking := Func(func(int) error { panic("kaboom") })
	good := newRecorder()

	b.Register(failing)
	b.Register(panicking)
	b.Register(good)

	b.Publish(1)
	b.Publish(2)
	b.Wait()

	if got := good.got(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("healthy subscriber got %v, want [1 2]", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 4 {
		t.Fatalf("expected 4 reported failures, got %d", len(reported))
	}
	panics := 0
	for _, err := range reported {
		if IsPanic(err) {
			panics++
		}
		if err.Broadcaster != "test" {
			t.Errorf("DeliveryError.Broadcaster = %q, want %q", err.Broadcaster, "test")
		}
	}
	if panics != 2 {
		t.Errorf("expected 2 panics reported, got %d", panics)
	}
}

func TestUnregisterFromOwnHandler(t *testing.T) {
	b := New[int]()

	var got []int
	var mu sync.Mutex
	var sub Subscriber[int]
	sub = Func(func(e int) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		if e == 2 {
			b.Unregister(sub)
		}
		return nil
	})
	b.Register(sub)

	b.Publish(1)
	b.Publish(2)
	b.Wait()
	b.Publish(3)
	b.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestCloseStopsPublishing(t *testing.T) {
	b := New[int]()
	r := newRecorder()
	b.Register(r)
	b.Close()

	if n := b.Publish(1); n != 0 {
		t.Errorf("Publish after Close scheduled %d deliveries", n)
	}
	if b.Register(newRecorder()) {
		t.Error("Register after Close should report false")
	}
}

func TestConcurrentRegisterAndPublish(t *testing.T) {
	b := New[int]()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := newRecorder()
			b.Register(r)
			for j := 0; j < 50; j++ {
				b.Publish(j)
			}
			b.Unregister(r)
		}()
	}
	wg.Wait()
	b.Wait()

	if b.Len() != 0 {
		t.Errorf("Len() = %d after all subscribers left", b.Len())
	}
}

// TestDeliveryOrderProperty checks that every subscriber registered before N
// publishes observes exactly those N events, in publish order.
func TestDeliveryOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		events := rapid.SliceOf(rapid.IntRange(-1000, 1000)).Draw(t, "events")
		subs := rapid.IntRange(1, 6).Draw(t, "subscribers")

		b := New[int]()
		recs := make([]*recorder, subs)
		for i := range recs {
			recs[i] = newRecorder()
			b.Register(recs[i])
		}

		for _, e := range events {
			b.Publish(e)
		}
		b.Wait()

		for i, r := range recs {
			got := r.got()
			if len(got) != len(events) {
				t.Fatalf("subscriber %d: got %d events, want %d", i, len(got), len(events))
			}
			for j := range events {
				if got[j] != events[j] {
					t.Fatalf("subscriber %d: event %d = %d, want %d", i, j, got[j], events[j])
				}
			}
		}
	})
}
