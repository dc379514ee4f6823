package provider

// Value is an opaque channel value. Scalars, arrays and strings pass through
// pvkit unchanged.
type Value = any

// Token identifies a callback registration or an in-flight request on a
// Handle.
type Token uint64

// StateFunc receives connection state changes.
type StateFunc func(connected bool)

// ValueFunc receives a channel value.
type ValueFunc func(v Value)

// DoneFunc receives a write completion.
type DoneFunc func()

// Provider creates handles for named channels.
type Provider interface {
	// Name returns the backend name (e.g. "memory", "ca").
	Name() string
	// Connect creates a handle for the named channel and starts connecting
	// it. onState is invoked on every connection state change, from provider
	// goroutines, for as long as the handle lives; it may fire before
	// Connect returns.
	Connect(name string, onState StateFunc) (Handle, error)
}

// Handle is the provider-side state of one channel. Handles are owned by
// exactly one pvkit Channel.
type Handle interface {
	// Name returns the channel name.
	Name() string
	// ElementCount returns the maximum number of elements of the value.
	ElementCount() int
	// Disconnect releases the handle. No callbacks fire after it returns.
	Disconnect()

	// Read requests the current value; onValue fires once.
	Read(onValue ValueFunc) (Token, error)
	// Write requests a value change; onDone fires once the write is
	// acknowledged.
	Write(v Value, onDone DoneFunc) (Token, error)
	// CancelRequest drops the callback of an in-flight Read or Write.
	CancelRequest(t Token)

	// RegisterCallback subscribes onValue to value updates.
	RegisterCallback(onValue ValueFunc) (Token, error)
	// UnregisterCallback removes a subscription. No further calls to its
	// callback start after it returns.
	UnregisterCallback(t Token)

	// EnableStreaming asks the provider to push updates for this channel.
	EnableStreaming()
	// DisableStreaming stops pushed updates.
	DisableStreaming()
}

// LastValuer is optionally implemented by handles that cache the most
// recent value they delivered.
type LastValuer interface {
	Last() (Value, bool)
}

// Factory creates a provider instance from configuration.
type Factory func(cfg map[string]any) (Provider, error)
