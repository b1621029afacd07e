package broadcast

import (
	"errors"
	"fmt"
)

// DeliveryError describes a subscriber that failed to handle an event.
type DeliveryError struct {
	// Broadcaster is the name given with WithName (may be empty)
	Broadcaster string

	// Subscriber is the identity of the failing subscriber
	Subscriber ID

	// Panic is true when the handler panicked rather than returned an error
	Panic bool

	// Err is the returned error or the recovered panic value
	Err error
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	what := "error"
	if e.Panic {
		what = "panic"
	}
	if e.Broadcaster != "" {
		return fmt.Sprintf("%s: subscriber %d %s: %v", e.Broadcaster, e.Subscriber, what, e.Err)
	}
	return fmt.Sprintf("subscriber %d %s: %v", e.Subscriber, what, e.Err)
}

// Unwrap allows errors.Is() and errors.As() to work with wrapped errors
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsPanic reports whether err records a recovered subscriber panic.
func IsPanic(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Panic
}

// funcSubscriber adapts a plain function.
type funcSubscriber[E any] struct {
	Identity
	fn func(E) error
}

func (f *funcSubscriber[E]) Receive(event E) error {
	return f.fn(event)
}

// Func wraps fn as a Subscriber with a fresh identity.
func Func[E any](fn func(E) error) Subscriber[E] {
	return &funcSubscriber[E]{Identity: NewIdentity(), fn: fn}
}
