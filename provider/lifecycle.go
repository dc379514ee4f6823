package provider

import "context"

// Initializable is optionally implemented by providers that need process-wide
// setup (library initialization, context creation) before the first Connect.
type Initializable interface {
	Init(ctx context.Context) error
}

// Closeable is optionally implemented by providers that hold process-wide
// resources released after the last handle is gone.
type Closeable interface {
	Close(ctx context.Context) error
}
