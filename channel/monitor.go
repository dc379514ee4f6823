package channel

import (
	"context"
	"errors"
	"iter"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/kbukum/pvkit/bridge"
	"github.com/kbukum/pvkit/logger"
	"github.com/kbukum/pvkit/provider"
)

// MonitorOption configures Channel.Monitor.
type MonitorOption func(*monitorOptions)

type monitorOptions struct {
	current bool
	equal   func(a, b provider.Value) bool
}

// WithCurrent makes the monitor deliver the current value first. If the
// first update that follows carries the same value it is not delivered
// again.
func WithCurrent() MonitorOption {
	return func(o *monitorOptions) { o.current = true }
}

// WithEqual sets the comparison used to recognise a repeated current value.
// Defaults to reflect.DeepEqual.
func WithEqual(equal func(a, b provider.Value) bool) MonitorOption {
	return func(o *monitorOptions) {
		if equal != nil {
			o.equal = equal
		}
	}
}

func defaultEqual(a, b provider.Value) bool { return reflect.DeepEqual(a, b) }

// Monitor is a subscription to a channel's value updates. Updates are
// delivered in order; a consumer that falls behind skips intermediate
// values but always receives the latest one. Monitor implements
// provider.Iterator.
type Monitor struct {
	ch    *Channel
	id    string
	log   *logger.Logger
	buf   *bridge.DoubleSlot[provider.Value]
	equal func(a, b provider.Value) bool
	token provider.Token

	mu       sync.Mutex
	suppress bool
	seedVal  provider.Value

	closeOnce sync.Once
}

var _ provider.Iterator[provider.Value] = (*Monitor)(nil)

func newMonitor(ch *Channel, equal func(a, b provider.Value) bool) *Monitor {
	id := uuid.NewString()
	return &Monitor{
		ch:    ch,
		id:    id,
		log:   ch.log.WithFields(logger.Fields(logger.FieldMonitorID, id)),
		buf:   bridge.NewDoubleSlot[provider.Value](),
		equal: equal,
	}
}

// ID returns the monitor's unique id.
func (m *Monitor) ID() string { return m.id }

// onValue runs on provider goroutines and never blocks.
func (m *Monitor) onValue(v provider.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suppress {
		m.suppress = false
		if m.equal(m.seedVal, v) {
			return
		}
	}
	m.buf.Push(v)
}

// seed delivers the current value ahead of any update, unless an update
// already arrived.
func (m *Monitor) seed(ctx context.Context) error {
	v, ok := m.ch.last()
	if !ok {
		var err error
		if v, err = m.ch.read(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buf.PushIfEmpty(v) {
		m.seedVal, m.suppress = v, true
	}
	return nil
}

// Next blocks until a value is available. It returns (nil, false, nil) once
// the monitor or its channel is closed, and ctx.Err() if ctx ends first; the
// monitor stays open in that case.
func (m *Monitor) Next(ctx context.Context) (provider.Value, bool, error) {
	v, err := m.buf.Pop(ctx)
	if err != nil {
		if errors.Is(err, bridge.ErrStreamClosed) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

// Values returns an iterator over delivered values. The monitor is closed
// when the loop ends for any reason. A non-nil error is yielded once, as
// the last element.
func (m *Monitor) Values(ctx context.Context) iter.Seq2[provider.Value, error] {
	return func(yield func(provider.Value, error) bool) {
		defer m.Close()
		for {
			v, ok, err := m.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok || !yield(v, nil) {
				return
			}
		}
	}
}

// Dropped returns how many updates were skipped because the consumer fell
// behind.
func (m *Monitor) Dropped() uint64 { return m.buf.Dropped() }

// Closed reports whether the monitor is closed.
func (m *Monitor) Closed() bool { return m.buf.Closed() }

// Close unsubscribes and wakes a blocked Next. It is idempotent and always
// returns nil.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		m.ch.handle.UnregisterCallback(m.token)
		m.buf.Close()
		if m.ch.removeMonitor(m) {
			m.ch.releaseStreaming()
			m.ch.client.metrics.MonitorClosed(context.Background(), m.buf.Dropped())
		}
		m.log.Debug("monitor closed", logger.Fields(logger.FieldDropped, m.buf.Dropped()))
	})
	return nil
}
