// Package provider defines the boundary between pvkit and a channel-access
// client library.
//
// A Provider resolves channel names into Handles. A Handle owns the
// provider-side state of one channel and exposes the callback-based
// operations the rest of pvkit is built on: read, write, value
// subscriptions and streaming control. Every callback a Provider invokes is
// assumed to run on a goroutine (or OS thread) pvkit does not control, at any
// time, possibly re-entrantly.
//
// Opt-in capabilities:
//   - LastValuer: handles that cache the most recent value
//   - Initializable: providers that need process-wide setup
//   - Closeable: providers that hold process-wide resources
//
// # Middleware
//
// Middleware wraps a Provider to add cross-cutting behavior around every
// handle it creates:
//
//	p := provider.Chain(provider.WithLogging(log))(raw)
//
// # Registry
//
// Backends are registered by name so a client can be built from
// configuration:
//
//	reg := provider.NewRegistry()
//	reg.RegisterFactory("memory", memory.Factory)
//	p, err := reg.Create("memory", nil)
package provider
