// Package progress turns native rebuild callbacks into typed lifecycle
// events and fans them out to registered subscribers.
package progress

import (
	"fmt"

	"go-repack/broadcast"
	"go-repack/engine"
	"go-repack/log"
	"go-repack/pkg"
)

// Kind identifies a lifecycle event
type Kind int

const (
	ItemStarted Kind = iota
	ItemFinished
	BatchFinished
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case ItemStarted:
		return "item-started"
	case ItemFinished:
		return "item-finished"
	case BatchFinished:
		return "batch-finished"
	default:
		return "unknown"
	}
}

// ItemError is the per-package failure reported by the engine. It never
// aborts the batch.
type ItemError struct {
	Package pkg.Key
	Reason  string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("rebuild of %s failed: %s", e.Package, e.Reason)
}

// Event is one lifecycle event. Package is nil for BatchFinished. For
// ItemFinished, Output is the archive path on success and Err is an
// *ItemError on failure.
type Event struct {
	Kind    Kind
	Package *pkg.Package
	Output  string
	Err     error
}

// Succeeded reports whether the event is a successful ItemFinished
func (e Event) Succeeded() bool {
	return e.Kind == ItemFinished && e.Err == nil
}

// Subscriber receives lifecycle events. Calls arrive in publish order on a
// goroutine owned by the notifier, never on the engine's thread.
type Subscriber interface {
	SubscriberID() broadcast.ID
	OnItemStarted(p *pkg.Package)
	OnItemFinished(p *pkg.Package, output string, err error)
	OnBatchFinished()
}

type adapter struct {
	sub Subscriber
}

func (a adapter) SubscriberID() broadcast.ID { return a.sub.SubscriberID() }

func (a adapter) Receive(e Event) error {
	switch e.Kind {
	case ItemStarted:
		a.sub.OnItemStarted(e.Package)
	case ItemFinished:
		a.sub.OnItemFinished(e.Package, e.Output, e.Err)
	case BatchFinished:
		a.sub.OnBatchFinished()
	default:
		return fmt.Errorf("unknown event kind %d", e.Kind)
	}
	return nil
}

// Compile-time interface check
var _ engine.Receiver = (*Notifier)(nil)

// Notifier is the engine.Receiver of a rebuild. Packages in events are
// detached snapshots: they stay valid after the native entry is released.
type Notifier struct {
	b      *broadcast.Broadcaster[Event]
	logger log.LibraryLogger
}

// NewNotifier creates a notifier. logger may be nil.
func NewNotifier(logger log.LibraryLogger) *Notifier {
	logger = log.OrNoOp(logger)
	return &Notifier{
		b: broadcast.New[Event](
			broadcast.WithName("progress"),
			broadcast.WithErrorHandler(func(err *broadcast.DeliveryError) {
				logger.Error("%v", err)
			}),
		),
		logger: logger,
	}
}

// Register adds a subscriber. Reports false if already registered.
func (n *Notifier) Register(sub Subscriber) bool {
	return n.b.Register(adapter{sub: sub})
}

// Unregister removes a subscriber. Events already scheduled for it are
// still delivered.
func (n *Notifier) Unregister(sub Subscriber) bool {
	return n.b.UnregisterID(sub.SubscriberID())
}

// Registered reports whether sub is registered
func (n *Notifier) Registered(sub Subscriber) bool {
	return n.b.Registered(sub.SubscriberID())
}

// Len returns the number of subscribers
func (n *Notifier) Len() int {
	return n.b.Len()
}

// Wait blocks until every scheduled delivery has completed
func (n *Notifier) Wait() {
	n.b.Wait()
}

// Close detaches every subscriber
func (n *Notifier) Close() {
	n.b.Close()
}

// ItemStarted implements engine.Receiver
func (n *Notifier) ItemStarted(raw engine.RawPackage) {
	defer raw.Release()

	p, err := engine.Snapshot(raw)
	if err != nil {
		n.logger.Warn("Dropping item-started event: %v", err)
		return
	}
	n.b.Publish(Event{Kind: ItemStarted, Package: p})
}

// ItemFinished implements engine.Receiver
func (n *Notifier) ItemFinished(raw engine.RawPackage, output, failure string) {
	defer raw.Release()

	p, err := engine.Snapshot(raw)
	if err != nil {
		n.logger.Warn("Dropping item-finished event: %v", err)
		return
	}

	e := Event{Kind: ItemFinished, Package: p, Output: output}
	if failure != "" {
		e.Output = ""
		e.Err = &ItemError{Package: p.Key(), Reason: failure}
	}
	n.b.Publish(e)
}

// BatchFinished implements engine.Receiver
func (n *Notifier) BatchFinished() {
	n.b.Publish(Event{Kind: BatchFinished})
}

// Funcs adapts plain functions to Subscriber. Nil functions are skipped.
type Funcs struct {
	broadcast.Identity
	Started  func(p *pkg.Package)
	Finished func(p *pkg.Package, output string, err error)
	Batch    func()
}

// NewFuncs returns a Funcs with a fresh identity
func NewFuncs() *Funcs {
	return &Funcs{Identity: broadcast.NewIdentity()}
}

func (f *Funcs) OnItemStarted(p *pkg.Package) {
	if f.Started != nil {
		f.Started(p)
	}
}

func (f *Funcs) OnItemFinished(p *pkg.Package, output string, err error) {
	if f.Finished != nil {
		f.Finished(p, output, err)
	}
}

func (f *Funcs) OnBatchFinished() {
	if f.Batch != nil {
		f.Batch()
	}
}
