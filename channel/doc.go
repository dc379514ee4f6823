// Package channel turns a callback-driven provider into blocking,
// context-aware channel operations.
//
// A Client connects named channels through a provider.Provider. Every
// provider callback runs on a goroutine the caller does not own; the
// Channel and Monitor types hand results across with the primitives in
// package bridge so callers simply block with a context:
//
//	client, _ := channel.New(channel.Config{}, memory.New(memory.WithChannel("pv:ai", 0.0)))
//	ch, err := client.Connect(ctx, "pv:ai")
//	if err != nil { ... }
//	defer ch.Close()
//
//	_ = ch.Put(ctx, 2.5)
//	v, _ := ch.Get(ctx)
//
//	mon, _ := ch.Monitor(ctx, channel.WithCurrent())
//	for v, err := range mon.Values(ctx) { ... }
//
// Cancelling a context always releases what the operation holds on the
// provider side: a cancelled Connect disconnects its half-open handle, a
// cancelled Get or Put cancels its request, and leaving a Values loop
// unregisters the monitor.
//
// Monitors never block the provider. Each monitor buffers at most two
// values; when the consumer falls behind, the oldest undelivered value and
// the newest one are kept and the values in between are dropped and counted.
package channel
