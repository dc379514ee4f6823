package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbukum/pvkit/logger"
	"github.com/kbukum/pvkit/provider"
	"github.com/kbukum/pvkit/provider/memory"
)

const wait = 2 * time.Second

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	t.Cleanup(cancel)
	return ctx
}

func newClient(t *testing.T, p provider.Provider, cfg Config, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewNop())}, opts...)
	c, err := New(cfg, p, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func connect(t *testing.T, c *Client, name string) *Channel {
	t.Helper()
	ch, err := c.Connect(testCtx(t), name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func memoryClient(t *testing.T, cfg Config, opts ...memory.Option) (*Client, *memory.Provider) {
	t.Helper()
	p := memory.New(opts...)
	return newClient(t, p, cfg), p
}

// syncProvider invokes every callback on the calling goroutine, which lets
// tests observe behaviour that would otherwise happen on provider
// goroutines.
type syncProvider struct {
	mu        sync.Mutex
	value     provider.Value
	duplicate bool
	handles   int
	// onRegister runs at the start of RegisterCallback.
	onRegister func()
}

func (p *syncProvider) Name() string { return "sync" }

func (p *syncProvider) Connect(name string, onState provider.StateFunc) (provider.Handle, error) {
	p.mu.Lock()
	p.handles++
	p.mu.Unlock()
	onState(true)
	return &syncHandle{p: p, name: name}, nil
}

func (p *syncProvider) open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles
}

type syncHandle struct {
	p            *syncProvider
	name         string
	once         sync.Once
	disconnected bool
}

func (h *syncHandle) Name() string      { return h.name }
func (h *syncHandle) ElementCount() int { return 1 }

func (h *syncHandle) Disconnect() {
	h.once.Do(func() {
		h.p.mu.Lock()
		h.p.handles--
		h.disconnected = true
		h.p.mu.Unlock()
	})
}

func (h *syncHandle) Read(onValue provider.ValueFunc) (provider.Token, error) {
	h.p.mu.Lock()
	v, dup := h.p.value, h.p.duplicate
	h.p.mu.Unlock()
	onValue(v)
	if dup {
		onValue(v)
	}
	return 1, nil
}

func (h *syncHandle) Write(v provider.Value, onDone provider.DoneFunc) (provider.Token, error) {
	h.p.mu.Lock()
	h.p.value = v
	dup := h.p.duplicate
	h.p.mu.Unlock()
	onDone()
	if dup {
		onDone()
	}
	return 2, nil
}

func (h *syncHandle) CancelRequest(provider.Token) {}

func (h *syncHandle) RegisterCallback(provider.ValueFunc) (provider.Token, error) {
	h.p.mu.Lock()
	hook := h.p.onRegister
	h.p.mu.Unlock()
	if hook != nil {
		hook()
	}

	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.disconnected {
		return 0, errors.New("sync: handle disconnected")
	}
	return 3, nil
}

func (h *syncHandle) UnregisterCallback(provider.Token) {}
func (h *syncHandle) EnableStreaming()                  {}
func (h *syncHandle) DisableStreaming()                 {}
