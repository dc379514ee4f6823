// Package bridge converts fire-and-forget callbacks delivered on
// provider-owned goroutines into values a single consumer can block on.
//
// Three primitives cover every handoff between a provider callback and the
// consumer:
//
//   - Signal: a wake-up token any goroutine can post without blocking, even
//     after the consumer has gone away.
//   - OneShot: a result resolved exactly once by a callback, awaited with a
//     context. Abandoning the wait runs the registered release hooks.
//   - DoubleSlot: a two-entry coalescing buffer between a fast producer and a
//     slow consumer. Values come out in arrival order; under backpressure
//     only superseded intermediate values are dropped.
//
// None of the primitives call back into the provider, and no lock is held
// across a blocking operation.
package bridge
