// Package memory is an in-memory channel-access provider for testing and
// development.
//
// Channels are plain named values. Every callback is delivered from a
// goroutine owned by the provider, serialized per handle, so consumers see
// the same threading model a real client library imposes. Not intended for
// production use: there is no wire protocol, no access control and no type
// negotiation.
package memory

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/pvkit/provider"
)

// DefaultName is the backend name reported by Name.
const DefaultName = "memory"

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the backend name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithChannel defines a channel with an initial value. The element count is
// the length of initial when it is a slice or array, 1 otherwise.
func WithChannel(name string, initial provider.Value) Option {
	return func(p *Provider) { p.define(name, initial) }
}

// WithConnectDelay delays the first connected notification of every handle.
func WithConnectDelay(d time.Duration) Option {
	return func(p *Provider) { p.connectDelay = d }
}

// WithLatency delays the processing of every read and write request.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithDuplicateCompletions makes every read and write completion callback
// fire twice, emulating a misbehaving client library.
func WithDuplicateCompletions() Option {
	return func(p *Provider) { p.duplicate = true }
}

type entry struct {
	value  provider.Value
	count  int
	online bool
}

// Provider is an in-memory provider.Provider.
type Provider struct {
	name         string
	connectDelay time.Duration
	latency      time.Duration
	duplicate    bool

	mu       sync.Mutex
	channels map[string]*entry
	handles  map[string]map[*handle]struct{}

	tokens      atomic.Uint64
	open        atomic.Int64
	initialized atomic.Bool
}

// New creates a provider with no channels unless options define some.
// Connecting to an undefined channel succeeds, but the handle stays
// disconnected until the channel is defined with Set or SetOnline.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:     DefaultName,
		channels: make(map[string]*entry),
		handles:  make(map[string]map[*handle]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the backend name.
func (p *Provider) Name() string { return p.name }

// Init marks the provider initialized.
func (p *Provider) Init(_ context.Context) error {
	p.initialized.Store(true)
	return nil
}

// Initialized reports whether Init has been called since the last Close.
func (p *Provider) Initialized() bool { return p.initialized.Load() }

// Close disconnects every open handle.
func (p *Provider) Close(_ context.Context) error {
	p.mu.Lock()
	var all []*handle
	for _, hs := range p.handles {
		for h := range hs {
			all = append(all, h)
		}
	}
	p.mu.Unlock()

	for _, h := range all {
		h.Disconnect()
	}
	p.initialized.Store(false)
	return nil
}

// Connect creates a handle for name. The handle connects asynchronously once
// the channel is online.
func (p *Provider) Connect(name string, onState provider.StateFunc) (provider.Handle, error) {
	h := &handle{
		p:         p,
		name:      name,
		onState:   onState,
		callbacks: make(map[provider.Token]provider.ValueFunc),
		pending:   make(map[provider.Token]struct{}),
	}

	p.mu.Lock()
	ent := p.channels[name]
	if ent != nil {
		h.count = ent.count
	} else {
		h.count = 1
	}
	if p.handles[name] == nil {
		p.handles[name] = make(map[*handle]struct{})
	}
	p.handles[name][h] = struct{}{}
	online := ent != nil && ent.online
	p.mu.Unlock()
	p.open.Add(1)

	if online {
		if p.connectDelay > 0 {
			time.AfterFunc(p.connectDelay, func() { h.setConnected(true) })
		} else {
			h.setConnected(true)
		}
	}
	return h, nil
}

// Set stores v as the channel's value, as if another client wrote it,
// defining and bringing the channel online if needed. Streaming handles are
// notified.
func (p *Provider) Set(name string, v provider.Value) {
	if p.ensureOnline(name, v) {
		p.connectAll(name, true)
	}
	p.store(name, v)
}

// SetOnline brings a channel up or down. Every handle on it is notified of
// the state change; handles created while it is down stay disconnected.
func (p *Provider) SetOnline(name string, online bool) {
	p.mu.Lock()
	ent := p.channels[name]
	if ent == nil {
		ent = &entry{count: 1}
		p.channels[name] = ent
	}
	ent.online = online
	p.mu.Unlock()

	p.connectAll(name, online)
}

// Value returns the stored value of a channel.
func (p *Provider) Value(name string) (provider.Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ent, ok := p.channels[name]
	if !ok {
		return nil, false
	}
	return ent.value, true
}

// OpenHandles returns the number of handles not yet disconnected.
// Useful for leak assertions.
func (p *Provider) OpenHandles() int {
	return int(p.open.Load())
}

func (p *Provider) define(name string, initial provider.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[name] = &entry{value: cloneValue(initial), count: elementCount(initial), online: true}
}

// ensureOnline defines name if missing and reports whether it was offline.
func (p *Provider) ensureOnline(name string, v provider.Value) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ent := p.channels[name]
	if ent == nil {
		p.channels[name] = &entry{value: cloneValue(v), count: elementCount(v), online: true}
		return true
	}
	if !ent.online {
		ent.online = true
		return true
	}
	return false
}

func (p *Provider) connectAll(name string, connected bool) {
	for _, h := range p.handlesFor(name) {
		h.setConnected(connected)
	}
}

func (p *Provider) handlesFor(name string) []*handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*handle, 0, len(p.handles[name]))
	for h := range p.handles[name] {
		out = append(out, h)
	}
	return out
}

// store updates the value and queues the update on every streaming handle.
// Both happen under the provider lock so delivery order matches store order.
func (p *Provider) store(name string, v provider.Value) {
	v = cloneValue(v)

	p.mu.Lock()
	defer p.mu.Unlock()
	if ent := p.channels[name]; ent != nil {
		ent.value = v
	}
	for h := range p.handles[name] {
		h.deliver(v)
	}
}

func (p *Provider) load(name string) provider.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ent := p.channels[name]; ent != nil {
		return cloneValue(ent.value)
	}
	return nil
}

func (p *Provider) release(h *handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	hs := p.handles[h.name]
	if _, ok := hs[h]; !ok {
		return false
	}
	delete(hs, h)
	if len(hs) == 0 {
		delete(p.handles, h.name)
	}
	p.open.Add(-1)
	return true
}

func (p *Provider) nextToken() provider.Token {
	return provider.Token(p.tokens.Add(1))
}

// schedule runs fn on h's callback goroutine, after the configured latency.
func (p *Provider) schedule(h *handle, fn func()) {
	if p.latency > 0 {
		time.AfterFunc(p.latency, func() { h.enqueue(fn) })
		return
	}
	h.enqueue(fn)
}

func elementCount(v provider.Value) int {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Len() > 0 {
			return rv.Len()
		}
	}
	return 1
}

// cloneValue copies slices so stored values never alias caller memory.
func cloneValue(v provider.Value) provider.Value {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.IsNil() {
		return v
	}
	out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(out, rv)
	return out.Interface()
}

// compile-time interface checks
var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.Initializable = (*Provider)(nil)
	_ provider.Closeable     = (*Provider)(nil)
)
