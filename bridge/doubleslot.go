package bridge

import (
	"context"
	"sync"
	"sync/atomic"
)

// DoubleSlot is a capacity-two coalescing buffer between producer callbacks
// and one consumer.
//
// Push stores into the first slot when it is empty and otherwise overwrites
// the second, so a consumer that falls behind sees the oldest undelivered
// value followed by the newest one. Values never come out of order or twice;
// values overwritten in the second slot are counted by Dropped.
type DoubleSlot[T any] struct {
	signal *Signal

	mu        sync.Mutex
	first     T
	second    T
	hasFirst  bool
	hasSecond bool
	closed    bool

	dropped atomic.Uint64
}

// NewDoubleSlot creates an empty buffer.
func NewDoubleSlot[T any]() *DoubleSlot[T] {
	return &DoubleSlot[T]{signal: NewSignal()}
}

// Push stores v and wakes the consumer. It never blocks beyond the slot
// update and returns false if the buffer is closed.
func (b *DoubleSlot[T]) Push(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	switch {
	case !b.hasFirst:
		b.first, b.hasFirst = v, true
	case b.hasSecond:
		b.second = v
		b.dropped.Add(1)
	default:
		b.second, b.hasSecond = v, true
	}
	b.signal.Notify()
	return true
}

// PushIfEmpty stores v only when nothing is buffered and reports whether it
// did. It is used to seed a buffer without overtaking values that already
// arrived.
func (b *DoubleSlot[T]) PushIfEmpty(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.hasFirst {
		return false
	}
	b.first, b.hasFirst = v, true
	b.signal.Notify()
	return true
}

// Pop removes and returns the oldest buffered value, blocking until one is
// available. It returns ErrStreamClosed once the buffer is closed and
// ctx.Err() if ctx ends first.
func (b *DoubleSlot[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok, closed := b.shift(); ok {
			return v, nil
		} else if closed {
			var zero T
			return zero, ErrStreamClosed
		}

		if err := b.signal.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
}

// TryPop removes and returns the oldest buffered value without blocking.
func (b *DoubleSlot[T]) TryPop() (T, bool) {
	v, ok, _ := b.shift()
	return v, ok
}

// shift moves the second slot into the first and clears the wake-up once
// both are empty. Emptiness and the signal are updated under the same lock
// Push holds while notifying, so a cleared signal always means no data.
func (b *DoubleSlot[T]) shift() (v T, ok bool, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return v, false, true
	}
	if !b.hasFirst {
		return v, false, false
	}

	v = b.first
	var zero T
	b.first, b.hasFirst = b.second, b.hasSecond
	b.second, b.hasSecond = zero, false
	if !b.hasFirst {
		b.signal.Clear()
	}
	return v, true, false
}

// Close discards buffered values and wakes a blocked Pop, which then returns
// ErrStreamClosed. Close is idempotent.
func (b *DoubleSlot[T]) Close() {
	b.mu.Lock()
	var zero T
	b.closed = true
	b.first, b.hasFirst = zero, false
	b.second, b.hasSecond = zero, false
	b.mu.Unlock()

	b.signal.Notify()
}

// Closed reports whether Close has been called.
func (b *DoubleSlot[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of buffered values (0, 1 or 2).
func (b *DoubleSlot[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	if b.hasFirst {
		n++
	}
	if b.hasSecond {
		n++
	}
	return n
}

// Dropped returns how many values were overwritten before delivery.
func (b *DoubleSlot[T]) Dropped() uint64 {
	return b.dropped.Load()
}
