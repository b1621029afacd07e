// Package broadcast fans one event stream out to any number of independently
// registered subscribers.
//
// Every subscriber owns a mailbox: an unbounded FIFO drained by at most one
// goroutine at a time. Publish appends the event to each mailbox and returns
// without waiting for delivery, so producers running on foreign threads
// (native callbacks, worker goroutines) are never blocked by slow consumers.
//
// Guarantees:
//   - per-subscriber delivery order equals publish order
//   - no ordering between different subscribers
//   - a failing or panicking subscriber affects neither other subscribers
//     nor the producer
package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ID is the stable identity of a subscriber. Registration and removal are
// keyed by ID, never by the dynamic type of the subscriber.
type ID uint64

var lastID atomic.Uint64

// NewID mints a process-unique subscriber identity.
func NewID() ID {
	return ID(lastID.Add(1))
}

// Subscriber receives events of type E.
type Subscriber[E any] interface {
	SubscriberID() ID
	Receive(event E) error
}

// Identity can be embedded in subscriber types to satisfy SubscriberID.
type Identity struct {
	id ID
}

// NewIdentity returns an Identity holding a fresh ID.
func NewIdentity() Identity {
	return Identity{id: NewID()}
}

// SubscriberID implements Subscriber
func (i Identity) SubscriberID() ID {
	return i.id
}

// ErrorHandler is told about subscriber failures. It runs on the delivering
// goroutine and must not block for long.
type ErrorHandler func(err *DeliveryError)

// Option configures a Broadcaster
type Option func(*options)

type options struct {
	name    string
	onError ErrorHandler
}

// WithName labels the broadcaster in delivery errors.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithErrorHandler installs the handler for subscriber errors and panics.
// Without one, failures are swallowed.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) { o.onError = h }
}

// Broadcaster distributes events of type E to registered subscribers.
type Broadcaster[E any] struct {
	opts options

	mu     sync.Mutex // guards boxes and closed
	boxes  map[ID]*mailbox[E]
	order  []ID // registration order, for deterministic scheduling
	closed bool

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     int
}

// New creates a Broadcaster
func New[E any](opts ...Option) *Broadcaster[E] {
	b := &Broadcaster[E]{
		boxes: make(map[ID]*mailbox[E]),
	}
	for _, o := range opts {
		o(&b.opts)
	}
	b.pendingCond = sync.NewCond(&b.pendingMu)
	return b
}

// Register adds a subscriber. It reports false if a subscriber with the same
// ID is already registered or the broadcaster is closed.
func (b *Broadcaster[E]) Register(s Subscriber[E]) bool {
	id := s.SubscriberID()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if _, ok := b.boxes[id]; ok {
		return false
	}

	b.boxes[id] = &mailbox[E]{sub: s, owner: b}
	b.order = append(b.order, id)
	return true
}

// Unregister removes a subscriber by identity. Events already scheduled for
// it are still delivered; nothing published afterwards is. It is safe to call
// from inside the subscriber's own Receive. Reports false if absent.
func (b *Broadcaster[E]) Unregister(s Subscriber[E]) bool {
	return b.UnregisterID(s.SubscriberID())
}

// UnregisterID removes a subscriber by ID.
func (b *Broadcaster[E]) UnregisterID(id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.boxes[id]; !ok {
		return false
	}
	delete(b.boxes, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

// Registered reports whether a subscriber with the given ID is registered.
func (b *Broadcaster[E]) Registered(id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.boxes[id]
	return ok
}

// Len returns the number of registered subscribers
func (b *Broadcaster[E]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.boxes)
}

// Publish schedules one delivery of event to every registered subscriber and
// returns immediately. It returns the number of deliveries scheduled.
func (b *Broadcaster[E]) Publish(event E) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.boxes) == 0 {
		return 0
	}

	// The subscriber-set lock is held across the pushes so that two
	// publishes are enqueued in the same relative order everywhere.
	b.addPending(len(b.order))
	for _, id := range b.order {
		b.boxes[id].push(event)
	}
	return len(b.order)
}

// Wait blocks until every delivery scheduled so far has completed.
func (b *Broadcaster[E]) Wait() {
	b.pendingMu.Lock()
	for b.pending > 0 {
		b.pendingCond.Wait()
	}
	b.pendingMu.Unlock()
}

// Close unregisters everyone and turns further Publish calls into no-ops.
// Deliveries already scheduled still run; use Wait to drain them.
func (b *Broadcaster[E]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.boxes = make(map[ID]*mailbox[E])
	b.order = nil
}

func (b *Broadcaster[E]) addPending(n int) {
	b.pendingMu.Lock()
	b.pending += n
	b.pendingMu.Unlock()
}

func (b *Broadcaster[E]) doneOne() {
	b.pendingMu.Lock()
	b.pending--
	if b.pending == 0 {
		b.pendingCond.Broadcast()
	}
	b.pendingMu.Unlock()
}

func (b *Broadcaster[E]) report(err *DeliveryError) {
	if b.opts.onError != nil {
		b.opts.onError(err)
	}
}

// mailbox serializes deliveries to one subscriber.
type mailbox[E any] struct {
	sub   Subscriber[E]
	owner *Broadcaster[E]

	mu      sync.Mutex
	queue   []E
	running bool
}

func (m *mailbox[E]) push(event E) {
	m.mu.Lock()
	m.queue = append(m.queue, event)
	start := !m.running
	m.running = true
	m.mu.Unlock()

	if start {
		go m.drain()
	}
}

// drain delivers queued events until the queue is empty, then exits. A new
// goroutine is started by the next push.
func (m *mailbox[E]) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.running = false
			m.mu.Unlock()
			return
		}
		event := m.queue[0]
		var zero E
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.deliver(event)
		m.owner.doneOne()
	}
}

func (m *mailbox[E]) deliver(event E) {
	id := m.sub.SubscriberID()
	defer func() {
		if r := recover(); r != nil {
			m.owner.report(&DeliveryError{
				Broadcaster: m.owner.opts.name,
				Subscriber:  id,
				Panic:       true,
				Err:         fmt.Errorf("%v", r),
			})
		}
	}()

	if err := m.sub.Receive(event); err != nil {
		m.owner.report(&DeliveryError{
			Broadcaster: m.owner.opts.name,
			Subscriber:  id,
			Err:         err,
		})
	}
}
