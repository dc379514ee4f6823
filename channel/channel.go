package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/pvkit/bridge"
	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/logger"
	"github.com/kbukum/pvkit/observability"
	"github.com/kbukum/pvkit/provider"
	"github.com/kbukum/pvkit/stream"
)

// Channel is a connected named value. All methods are safe for concurrent
// use. A Channel must be closed to release its provider handle.
type Channel struct {
	client *Client
	name   string
	log    *logger.Logger
	handle provider.Handle
	count  int

	ready     *bridge.OneShot[struct{}]
	firstUp   atomic.Bool
	connected atomic.Bool

	mu       sync.Mutex
	closed   bool
	nextID   uint64
	inflight map[uint64]*request
	monitors map[*Monitor]struct{}
	auto     *autoStream

	// streamMu serializes streaming transitions. Provider callbacks never
	// take it.
	streamMu  sync.Mutex
	streaming int

	releaseOnce sync.Once
}

// request is a Get or Put awaiting its completion callback.
type request struct {
	token  provider.Token
	issued bool
	abort  func()
}

func newChannel(c *Client, name string) *Channel {
	return &Channel{
		client:   c,
		name:     name,
		log:      c.log.WithFields(logger.Fields(logger.FieldChannel, name)),
		ready:    bridge.NewOneShot[struct{}](bridge.Strict),
		inflight: make(map[uint64]*request),
		monitors: make(map[*Monitor]struct{}),
	}
}

func (ch *Channel) attach(h provider.Handle) {
	ch.handle = h
	ch.count = h.ElementCount()
}

// onState receives connection events. The first connection completes the
// pending Connect; later changes only update Connected.
func (ch *Channel) onState(connected bool) {
	ch.connected.Store(connected)
	if connected && ch.firstUp.CompareAndSwap(false, true) {
		_ = ch.ready.Resolve(struct{}{})
		return
	}
	ch.log.Info("channel connection state changed", logger.Fields(logger.FieldConnected, connected))
}

// Name returns the channel name.
func (ch *Channel) Name() string { return ch.name }

// ElementCount returns the maximum number of elements of the value.
func (ch *Channel) ElementCount() int { return ch.count }

// Connected reports whether the provider currently sees the channel as
// connected.
func (ch *Channel) Connected() bool {
	return !ch.Closed() && ch.connected.Load()
}

// Closed reports whether Close has been called.
func (ch *Channel) Closed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

// Get returns the current value. With the fresh policy every call issues a
// read; with the cached policy the latest streamed value is returned once
// one has arrived and no acknowledged Put is newer than it. If ctx ends
// first the read is cancelled and ctx.Err() is returned.
func (ch *Channel) Get(ctx context.Context) (provider.Value, error) {
	if ch.client.cfg.GetPolicy == GetCached {
		if v, ok := ch.cached(); ok {
			return v, nil
		}
	}

	ctx, op := observability.Begin(ctx, ch.client.tracer, ch.client.metrics, observability.OpGet, ch.name)
	v, err := ch.read(ctx)
	op.End(err)
	return v, err
}

// Put writes v and blocks until the provider acknowledges it. If ctx ends
// first the request is cancelled and ctx.Err() is returned; the write may
// still have been applied.
func (ch *Channel) Put(ctx context.Context, v provider.Value) error {
	ctx, op := observability.Begin(ctx, ch.client.tracer, ch.client.metrics, observability.OpPut, ch.name)
	err := ch.write(ctx, v)
	op.End(err)
	return err
}

func (ch *Channel) read(ctx context.Context) (provider.Value, error) {
	res := bridge.NewOneShot[provider.Value](bridge.Strict)
	id, err := ch.begin(func() { res.Cancel() })
	if err != nil {
		return nil, err
	}

	tok, err := ch.handle.Read(func(v provider.Value) {
		ch.retire(id)
		if err := res.Resolve(v); err != nil {
			ch.client.violation(observability.OpGet, ch.name, err)
		}
	})
	if err != nil {
		ch.retire(id)
		return nil, providerError(observability.OpGet, err)
	}
	ch.issued(id, tok)
	res.OnAbandon(func() { ch.cancel(id) })

	v, err := res.Await(ctx)
	return v, ch.mapAbandoned(err)
}

func (ch *Channel) write(ctx context.Context, v provider.Value) error {
	res := bridge.NewOneShot[struct{}](bridge.Idempotent)
	id, err := ch.begin(func() { res.Cancel() })
	if err != nil {
		return err
	}

	tok, err := ch.handle.Write(v, func() {
		ch.retire(id)
		ch.invalidateCached()
		_ = res.Resolve(struct{}{})
	})
	if err != nil {
		ch.retire(id)
		return providerError(observability.OpPut, err)
	}
	ch.issued(id, tok)
	res.OnAbandon(func() { ch.cancel(id) })

	_, err = res.Await(ctx)
	return ch.mapAbandoned(err)
}

// mapAbandoned turns an abort caused by Close into ErrCodeChannelClosed.
func (ch *Channel) mapAbandoned(err error) error {
	if err != nil && errors.Is(err, bridge.ErrAbandoned) {
		return apperrors.ChannelClosed(ch.name)
	}
	return err
}

// begin registers an in-flight request before it is issued so Close can
// abort it.
func (ch *Channel) begin(abort func()) (uint64, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return 0, apperrors.ChannelClosed(ch.name)
	}
	ch.nextID++
	ch.inflight[ch.nextID] = &request{abort: abort}
	return ch.nextID, nil
}

func (ch *Channel) issued(id uint64, tok provider.Token) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if r, ok := ch.inflight[id]; ok {
		r.token, r.issued = tok, true
	}
}

func (ch *Channel) retire(id uint64) {
	ch.mu.Lock()
	delete(ch.inflight, id)
	ch.mu.Unlock()
}

// cancel drops an abandoned request and tells the provider when it was
// already issued.
func (ch *Channel) cancel(id uint64) {
	ch.mu.Lock()
	r, ok := ch.inflight[id]
	delete(ch.inflight, id)
	ch.mu.Unlock()

	if ok && r.issued {
		ch.handle.CancelRequest(r.token)
	}
}

// Monitor subscribes to value updates. The subscription is released by
// Monitor.Close or by closing the channel.
func (ch *Channel) Monitor(ctx context.Context, opts ...MonitorOption) (_ *Monitor, err error) {
	o := monitorOptions{equal: defaultEqual}
	for _, opt := range opts {
		opt(&o)
	}
	m := newMonitor(ch, o.equal)

	ctx, op := observability.Begin(ctx, ch.client.tracer, ch.client.metrics, observability.OpMonitor, ch.name,
		attribute.String(observability.AttrMonitorID, m.id))
	defer func() { op.End(err) }()

	if ch.Closed() {
		return nil, apperrors.ChannelClosed(ch.name)
	}
	tok, err := ch.handle.RegisterCallback(m.onValue)
	if err != nil {
		if ch.Closed() {
			return nil, apperrors.ChannelClosed(ch.name)
		}
		return nil, providerError(observability.OpMonitor, err)
	}
	m.token = tok

	if !ch.addMonitor(m) {
		ch.handle.UnregisterCallback(tok)
		return nil, apperrors.ChannelClosed(ch.name)
	}
	ch.client.metrics.MonitorOpened(ctx)
	if !ch.retainStreaming() {
		_ = m.Close()
		return nil, apperrors.ChannelClosed(ch.name)
	}

	if o.current {
		if err := m.seed(ctx); err != nil {
			_ = m.Close()
			return nil, err
		}
	}

	m.log.Debug("monitor opened", logger.Fields("current", o.current))
	return m, nil
}

// Watch opens a monitor and calls fn with every delivered value until ctx
// ends, fn returns an error, or the channel closes. The monitor is closed
// on return. Ending because the channel closed returns nil.
func (ch *Channel) Watch(ctx context.Context, fn func(provider.Value) error, opts ...MonitorOption) error {
	m, err := ch.Monitor(ctx, opts...)
	if err != nil {
		return err
	}
	for v, err := range m.Values(ctx) {
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// WaitFor blocks until the value satisfies pred and returns it. The current
// value is considered first.
func (ch *Channel) WaitFor(ctx context.Context, pred func(provider.Value) bool) (provider.Value, error) {
	m, err := ch.Monitor(ctx, WithCurrent())
	if err != nil {
		return nil, err
	}
	return stream.First(ctx, stream.Filter(stream.From[provider.Value](m), pred))
}

func (ch *Channel) addMonitor(m *Monitor) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return false
	}
	ch.monitors[m] = struct{}{}
	return true
}

func (ch *Channel) removeMonitor(m *Monitor) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	_, ok := ch.monitors[m]
	delete(ch.monitors, m)
	return ok
}

// retainStreaming takes a streaming reference. It fails once the channel
// is closed, since Close has already released the references it knows of.
func (ch *Channel) retainStreaming() bool {
	ch.streamMu.Lock()
	defer ch.streamMu.Unlock()
	if ch.Closed() {
		return false
	}
	ch.streaming++
	if ch.streaming == 1 {
		ch.handle.EnableStreaming()
	}
	return true
}

func (ch *Channel) releaseStreaming() {
	ch.streamMu.Lock()
	defer ch.streamMu.Unlock()
	if ch.streaming == 0 {
		return
	}
	ch.streaming--
	if ch.streaming == 0 {
		ch.handle.DisableStreaming()
	}
}

// Close closes every monitor, aborts in-flight requests with
// ErrCodeChannelClosed and disconnects the handle. It is idempotent and
// always returns nil.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	monitors := make([]*Monitor, 0, len(ch.monitors))
	for m := range ch.monitors {
		monitors = append(monitors, m)
	}
	reqs := ch.inflight
	ch.inflight = make(map[uint64]*request)
	auto := ch.auto
	ch.auto = nil
	ch.mu.Unlock()

	for _, m := range monitors {
		_ = m.Close()
	}
	if auto != nil {
		ch.handle.UnregisterCallback(auto.token)
		ch.releaseStreaming()
	}
	for _, r := range reqs {
		if r.issued {
			ch.handle.CancelRequest(r.token)
		}
		r.abort()
	}

	ch.ready.Cancel()
	ch.release()
	ch.log.Debug("channel closed", logger.Fields("aborted_requests", len(reqs), "closed_monitors", len(monitors)))
	return nil
}

// abandon runs when a pending Connect gives up.
func (ch *Channel) abandon() {
	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
	ch.release()
}

func (ch *Channel) release() {
	ch.releaseOnce.Do(func() {
		ch.handle.Disconnect()
		ch.client.untrack(ch)
	})
}
