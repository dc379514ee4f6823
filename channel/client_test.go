package channel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kbukum/pvkit/component"
	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/logger"
	"github.com/kbukum/pvkit/observability"
	"github.com/kbukum/pvkit/provider"
	"github.com/kbukum/pvkit/provider/memory"
	"github.com/kbukum/pvkit/resilience"
)

func newMetrics(t *testing.T) (*observability.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observability.NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func sumMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is %T", name, m.Data)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestClient_ConfigDefaults(t *testing.T) {
	c, err := New(Config{}, memory.New(), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	cfg := c.Config()
	assert.Equal(t, "channel-client", cfg.Name)
	assert.Equal(t, memory.DefaultName, cfg.Provider)
	assert.Equal(t, GetFresh, cfg.GetPolicy)
	assert.Equal(t, ViolationPanic, cfg.OnViolation)
	assert.Equal(t, 3, cfg.ConnectRetry.MaxAttempts)
}

func TestClient_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown get policy", Config{GetPolicy: "stale"}},
		{"unknown violation policy", Config{OnViolation: "ignore"}},
		{"negative pending connects", Config{MaxPendingConnects: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, memory.New())
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig), "got %v", err)
		})
	}

	_, err := New(Config{}, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig))
}

func TestClient_NewFromRegistry(t *testing.T) {
	reg := provider.NewRegistry()
	reg.RegisterFactory(memory.DefaultName, memory.Factory)

	c, err := NewFromRegistry(Config{
		Provider:        "memory",
		ProviderOptions: map[string]any{"channels": map[string]any{"pv:x": 3.0}},
	}, reg, WithLogger(logger.NewNop()))
	require.NoError(t, err)

	ch, err := c.Connect(testCtx(t), "pv:x")
	require.NoError(t, err)
	defer ch.Close()
	v, err := ch.Get(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	_, err = NewFromRegistry(Config{Provider: "ca"}, reg)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnknownProvider))
}

func TestClient_CancelledConnectReleasesHandle(t *testing.T) {
	c, p := memoryClient(t, Config{})
	baseline := p.OpenHandles()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Connect(ctx, "pv:never")

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConnectionAbandoned), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, baseline, p.OpenHandles())
	assert.Zero(t, c.OpenChannels())
}

func TestClient_RepeatedConnectCancelCyclesDoNotLeak(t *testing.T) {
	c, p := memoryClient(t, Config{},
		memory.WithChannel("pv:x", 1.0),
		memory.WithConnectDelay(time.Millisecond),
	)
	baseline := p.OpenHandles()

	// Deadlines straddle the connect delay so some cycles lose the race and
	// some have the connection land as the deadline expires.
	var connected []*Channel
	for i := 0; i < 300; i++ {
		timeout := 800*time.Microsecond + time.Duration(i%5)*100*time.Microsecond
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		ch, err := c.Connect(ctx, "pv:x")
		cancel()

		if err != nil {
			require.True(t, apperrors.HasCode(err, apperrors.ErrCodeConnectionAbandoned), "got %v", err)
			continue
		}
		connected = append(connected, ch)
	}

	assert.Equal(t, len(connected), p.OpenHandles()-baseline)
	assert.Equal(t, len(connected), c.OpenChannels())

	for _, ch := range connected {
		require.NoError(t, ch.Close())
	}
	assert.Equal(t, baseline, p.OpenHandles())
	assert.Zero(t, c.OpenChannels())
}

func TestClient_ConnectWaitsForFirstConnection(t *testing.T) {
	c, p := memoryClient(t, Config{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Set("pv:late", 8.0)
	}()

	ch, err := c.Connect(testCtx(t), "pv:late")
	require.NoError(t, err)
	defer ch.Close()
	assert.True(t, ch.Connected())
}

func TestClient_ConnectRetriesRetryableErrors(t *testing.T) {
	var attempts atomic.Int32
	flaky := func(inner provider.Provider) provider.Provider {
		return &flakyProvider{Provider: inner, failures: 2, attempts: &attempts}
	}

	c := newClient(t, memory.New(memory.WithChannel("pv:x", 1.0)), Config{
		ConnectRetry: resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond},
	}, WithMiddleware(flaky))

	ch, err := c.Connect(testCtx(t), "pv:x")
	require.NoError(t, err)
	defer ch.Close()
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_ConnectDoesNotRetryPermanentErrors(t *testing.T) {
	var attempts atomic.Int32
	broken := func(inner provider.Provider) provider.Provider {
		return &flakyProvider{Provider: inner, failures: 10, permanent: true, attempts: &attempts}
	}
	c := newClient(t, memory.New(), Config{}, WithMiddleware(broken))

	_, err := c.Connect(testCtx(t), "pv:x")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig), "got %v", err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_MaxPendingConnects(t *testing.T) {
	c, p := memoryClient(t, Config{MaxPendingConnects: 1})

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := c.Connect(ctx, "pv:blocked")
		errc <- err
	}()
	assert.Eventually(t, func() bool { return p.OpenHandles() == 1 }, wait, time.Millisecond)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err := c.Connect(short, "pv:other")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConnectionAbandoned))
	assert.Equal(t, 1, p.OpenHandles(), "the second connect never reached the provider")

	p.Set("pv:blocked", 1.0)
	require.NoError(t, <-errc)
}

func TestClient_ConnectAll(t *testing.T) {
	c, p := memoryClient(t, Config{},
		memory.WithChannel("pv:a", 1),
		memory.WithChannel("pv:b", 2),
		memory.WithChannel("pv:c", 3),
	)

	chs, err := c.ConnectAll(testCtx(t), "pv:a", "pv:b", "pv:c")
	require.NoError(t, err)
	require.Len(t, chs, 3)
	for i, ch := range chs {
		v, err := ch.Get(testCtx(t))
		require.NoError(t, err)
		assert.Equal(t, i+1, v)
		_ = ch.Close()
	}
	assert.Zero(t, p.OpenHandles())
}

func TestClient_ConnectAllClosesOnFailure(t *testing.T) {
	var attempts atomic.Int32
	reject := func(inner provider.Provider) provider.Provider {
		return &flakyProvider{Provider: inner, failures: 1, permanent: true, only: "pv:bad", attempts: &attempts}
	}
	p := memory.New(memory.WithChannel("pv:a", 1), memory.WithChannel("pv:b", 2))
	c := newClient(t, p, Config{}, WithMiddleware(reject))

	chs, err := c.ConnectAll(testCtx(t), "pv:a", "pv:bad", "pv:b")
	require.Error(t, err)
	assert.Nil(t, chs)
	assert.Eventually(t, func() bool { return p.OpenHandles() == 0 }, wait, time.Millisecond)
	assert.Zero(t, c.OpenChannels())
}

func TestClient_Lifecycle(t *testing.T) {
	p := memory.New(memory.WithChannel("pv:x", 1.0))
	c, err := New(Config{Name: "beamline"}, p, WithLogger(logger.NewNop()))
	require.NoError(t, err)

	var comp component.Component = c
	assert.Equal(t, "beamline", comp.Name())
	assert.Equal(t, component.StatusUnhealthy, c.Health(context.Background()).Status)

	reg := component.NewRegistry()
	require.NoError(t, reg.Register(c))
	require.NoError(t, reg.StartAll(context.Background()))
	assert.True(t, p.Initialized())
	assert.Equal(t, component.StatusHealthy, c.Health(context.Background()).Status)

	ch, err := c.Connect(testCtx(t), "pv:x")
	require.NoError(t, err)
	assert.Equal(t, 1, c.OpenChannels())
	assert.Contains(t, c.Health(context.Background()).Message, "1 open")

	require.NoError(t, reg.StopAll(context.Background()))
	assert.True(t, ch.Closed())
	assert.Zero(t, p.OpenHandles())
	assert.False(t, p.Initialized())
	assert.Equal(t, component.StatusUnhealthy, c.Health(context.Background()).Status)

	_, err = c.Connect(testCtx(t), "pv:x")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChannelClosed))
	assert.Error(t, c.Start(context.Background()))

	d := c.Describe()
	assert.Equal(t, "channel-client", d.Type)
	assert.Contains(t, d.Details, "provider=memory")
}

func TestClient_DuplicateReadCompletionPanics(t *testing.T) {
	p := &syncProvider{value: 1.0}
	c := newClient(t, p, Config{})
	ch := connect(t, c, "pv:x")

	p.mu.Lock()
	p.duplicate = true
	p.mu.Unlock()

	assert.Panics(t, func() { _, _ = ch.Get(testCtx(t)) })
}

func TestClient_DuplicateCompletionLogPolicy(t *testing.T) {
	m, reader := newMetrics(t)
	p := &syncProvider{value: 1.0, duplicate: true}
	c := newClient(t, p, Config{OnViolation: ViolationLog}, WithMetrics(m))
	ch := connect(t, c, "pv:x")

	v, err := ch.Get(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v, "the first completion wins")
	assert.Equal(t, int64(1), sumMetric(t, reader, observability.MetricCallbackViolations))

	// Duplicate write acknowledgements are harmless.
	require.NoError(t, ch.Put(testCtx(t), 2.0))
	assert.Equal(t, int64(1), sumMetric(t, reader, observability.MetricCallbackViolations))
}

func TestClient_DuplicateCompletionsFromProviderGoroutine(t *testing.T) {
	c, _ := memoryClient(t, Config{OnViolation: ViolationLog},
		memory.WithChannel("pv:x", 1.0),
		memory.WithDuplicateCompletions(),
	)
	ch := connect(t, c, "pv:x")

	for i := 0; i < 10; i++ {
		v, err := ch.Get(testCtx(t))
		require.NoError(t, err)
		assert.Equal(t, 1.0, v)
	}
}

func TestClient_Metrics(t *testing.T) {
	m, reader := newMetrics(t)
	p := memory.New(memory.WithChannel("pv:x", 1.0))
	c := newClient(t, p, Config{}, WithMetrics(m))

	ch, err := c.Connect(testCtx(t), "pv:x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sumMetric(t, reader, observability.MetricConnectTotal))
	assert.Equal(t, int64(1), sumMetric(t, reader, observability.MetricHandlesOpen))

	mon, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sumMetric(t, reader, observability.MetricMonitorActive))

	require.NoError(t, ch.Close())
	assert.True(t, mon.Closed())
	assert.Equal(t, int64(0), sumMetric(t, reader, observability.MetricMonitorActive))
	assert.Equal(t, int64(0), sumMetric(t, reader, observability.MetricHandlesOpen))
}

func TestClient_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c := newClient(t, memory.New(memory.WithChannel("pv:x", 1.0)), Config{}, WithTracer(tp.Tracer("test")))
	ch := connect(t, c, "pv:x")
	require.NoError(t, ch.Put(testCtx(t), 2.0))
	_, err := ch.Get(testCtx(t))
	require.NoError(t, err)

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"channel.connect", "channel.put", "channel.get"}, names)
}

func TestClient_LogProviderCalls(t *testing.T) {
	c := newClient(t, memory.New(memory.WithChannel("pv:x", 1.0)), Config{LogProviderCalls: true})
	ch := connect(t, c, "pv:x")

	v, err := ch.Get(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	// Current-value monitors work through the logging middleware.
	m, err := ch.Monitor(testCtx(t), WithCurrent())
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 1.0, next(t, m))
}

// flakyProvider fails the first Connects it sees, optionally only for one
// channel name.
type flakyProvider struct {
	provider.Provider
	failures  int32
	permanent bool
	only      string
	attempts  *atomic.Int32
}

func (f *flakyProvider) Connect(name string, onState provider.StateFunc) (provider.Handle, error) {
	if f.only != "" && name != f.only {
		return f.Provider.Connect(name, onState)
	}
	if n := f.attempts.Add(1); n <= f.failures {
		if f.permanent {
			return nil, apperrors.InvalidConfig("channel " + name + " rejected")
		}
		return nil, apperrors.NotConnected(name)
	}
	return f.Provider.Connect(name, onState)
}
