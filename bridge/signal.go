package bridge

import "context"

// Signal is a level-triggered wake-up shared by any number of notifiers and a
// single waiter. At most one notification is pending at a time; further
// Notify calls before the waiter consumes it collapse into the pending one.
//
// The zero value is not usable; create signals with NewSignal.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a signal with no pending notification.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify marks the signal ready. It never blocks and never panics, so it is
// safe to call from a provider goroutine after the waiter has stopped
// listening.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until a notification is pending, then consumes it. It returns
// ctx.Err() if the context ends first; a notification posted concurrently
// stays pending for the next Wait.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear drops a pending notification, if any.
func (s *Signal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}

// Pending reports whether a notification is waiting to be consumed.
func (s *Signal) Pending() bool {
	return len(s.ch) > 0
}

// C exposes the notification channel for use in select statements.
// Receiving from it consumes the notification.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
