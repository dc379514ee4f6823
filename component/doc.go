// Package component defines the lifecycle interface shared by pvkit's
// long-lived parts, and a Registry that starts them in order and stops them
// in reverse.
//
// A channel.Client is a Component: Start runs its provider's process-wide
// setup, Stop closes every channel it still owns, Health reports whether it
// is usable.
//
//	reg := component.NewRegistry()
//	_ = reg.Register(client)
//	if err := reg.StartAll(ctx); err != nil { ... }
//	defer reg.StopAll(ctx)
package component
