package bridge

import (
	"context"
	"sync"

	apperrors "github.com/kbukum/pvkit/errors"
)

// Sentinel errors. They compare by code, so errors.Is matches any error of
// the same kind.
var (
	// ErrDoubleResolution is returned by a strict OneShot resolved twice.
	ErrDoubleResolution = apperrors.DoubleResolution("one-shot")
	// ErrAbandoned is returned by Await after Cancel retired the bridge.
	ErrAbandoned = apperrors.ConnectionAbandoned("")
	// ErrStreamClosed is returned by DoubleSlot.Pop once the buffer is closed.
	ErrStreamClosed = apperrors.StreamClosed()
)

// Mode selects how a OneShot treats a second resolution.
type Mode int

const (
	// Strict reports a second resolution as ErrDoubleResolution.
	Strict Mode = iota
	// Idempotent ignores repeated resolutions.
	Idempotent
)

// State is the lifecycle state of a OneShot.
type State int

const (
	StatePending State = iota
	StateResolved
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OneShot is a result delivered exactly once by a callback and awaited by a
// consumer. It leaves the pending state exactly once: by Resolve, Fail, or by
// being abandoned through Await's context or Cancel. Abandonment runs the
// hooks registered with OnAbandon.
type OneShot[T any] struct {
	mode Mode
	done chan struct{}

	mu    sync.Mutex
	state State
	value T
	err   error
	hooks []func()
}

// NewOneShot creates a pending OneShot.
func NewOneShot[T any](mode Mode) *OneShot[T] {
	return &OneShot[T]{
		mode: mode,
		done: make(chan struct{}),
	}
}

// Resolve completes the OneShot with v. It is safe to call from any
// goroutine. Resolving an abandoned OneShot is a no-op; resolving a completed
// one returns ErrDoubleResolution in Strict mode.
func (o *OneShot[T]) Resolve(v T) error {
	return o.complete(StateResolved, v, nil)
}

// Fail completes the OneShot with err, under the same rules as Resolve.
func (o *OneShot[T]) Fail(err error) error {
	var zero T
	return o.complete(StateFailed, zero, err)
}

func (o *OneShot[T]) complete(state State, v T, err error) error {
	o.mu.Lock()
	switch o.state {
	case StatePending:
		o.state = state
		o.value = v
		o.err = err
		o.hooks = nil
		close(o.done)
		o.mu.Unlock()
		return nil
	case StateCancelled:
		o.mu.Unlock()
		return nil
	default:
		o.mu.Unlock()
		if o.mode == Idempotent {
			return nil
		}
		return ErrDoubleResolution
	}
}

// OnAbandon registers fn to run if the OneShot is abandoned while pending.
// Hooks run once, on the goroutine that abandons it. Registering on an
// already abandoned OneShot runs fn immediately; registering on a completed
// one discards fn.
func (o *OneShot[T]) OnAbandon(fn func()) {
	o.mu.Lock()
	switch o.state {
	case StatePending:
		o.hooks = append(o.hooks, fn)
		o.mu.Unlock()
	case StateCancelled:
		o.mu.Unlock()
		fn()
	default:
		o.mu.Unlock()
	}
}

// Await blocks until the OneShot completes or ctx ends. If ctx ends while the
// OneShot is still pending, it is abandoned and ctx.Err() is returned. If the
// result lands at the same time, the result wins so nothing it carries is
// orphaned.
func (o *OneShot[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		return o.result()
	case <-ctx.Done():
	}

	if o.abandon() {
		var zero T
		return zero, ctx.Err()
	}
	return o.result()
}

// Cancel abandons the OneShot if it is still pending and reports whether it
// did.
func (o *OneShot[T]) Cancel() bool {
	return o.abandon()
}

func (o *OneShot[T]) abandon() bool {
	o.mu.Lock()
	if o.state != StatePending {
		o.mu.Unlock()
		return false
	}
	o.state = StateCancelled
	hooks := o.hooks
	o.hooks = nil
	close(o.done)
	o.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return true
}

func (o *OneShot[T]) result() (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateResolved:
		return o.value, nil
	case StateFailed:
		var zero T
		return zero, o.err
	default:
		var zero T
		return zero, ErrAbandoned
	}
}

// Done returns a channel closed once the OneShot leaves the pending state.
func (o *OneShot[T]) Done() <-chan struct{} {
	return o.done
}

// State returns the current lifecycle state.
func (o *OneShot[T]) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}
