package stream

import (
	"context"

	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/provider"
)

// Iterator is the pull contract operators consume and produce.
type Iterator[T any] = provider.Iterator[T]

// Stream is a lazy, pull-based sequence of values.
type Stream[T any] struct {
	create func(ctx context.Context) Iterator[T]
}

// From creates a stream over an existing iterator. The stream takes
// ownership: terminals close it.
func From[T any](it Iterator[T]) *Stream[T] {
	return &Stream[T]{
		create: func(_ context.Context) Iterator[T] { return it },
	}
}

// FromSlice creates a stream over a slice of values.
func FromSlice[T any](items []T) *Stream[T] {
	return &Stream[T]{
		create: func(_ context.Context) Iterator[T] { return &sliceIter[T]{items: items} },
	}
}

// Iter returns the raw iterator of the stream. The caller must Close it.
func (s *Stream[T]) Iter(ctx context.Context) Iterator[T] {
	return s.create(ctx)
}

// Collect pulls every value into a slice. Values pulled before an error are
// returned with it.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	it := s.create(ctx)
	defer it.Close()

	var out []T
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// ForEach calls fn for every value until the stream ends or fn fails.
func ForEach[T any](ctx context.Context, s *Stream[T], fn func(context.Context, T) error) error {
	it := s.create(ctx)
	defer it.Close()

	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(ctx, v); err != nil {
			return err
		}
	}
}

// First returns the first value of the stream and closes it. A stream that
// ends empty yields a STREAM_CLOSED error.
func First[T any](ctx context.Context, s *Stream[T]) (T, error) {
	it := s.create(ctx)
	defer it.Close()

	v, ok, err := it.Next(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if !ok {
		var zero T
		return zero, apperrors.StreamClosed()
	}
	return v, nil
}

type sliceIter[T any] struct {
	items []T
	index int
}

func (it *sliceIter[T]) Next(_ context.Context) (T, bool, error) {
	if it.index >= len(it.items) {
		var zero T
		return zero, false, nil
	}
	v := it.items[it.index]
	it.index++
	return v, true, nil
}

func (it *sliceIter[T]) Close() error { return nil }
