package channel

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/pvkit/provider"
	"github.com/kbukum/pvkit/provider/memory"
)

func next(t *testing.T, m *Monitor) provider.Value {
	t.Helper()
	v, ok, err := m.Next(testCtx(t))
	require.NoError(t, err)
	require.True(t, ok, "monitor ended early")
	return v
}

func TestMonitor_CurrentThenUpdates(t *testing.T) {
	c, _ := memoryClient(t, Config{}, memory.WithChannel("pv:x", 0.0))
	ch := connect(t, c, "pv:x")

	m, err := ch.Monitor(testCtx(t), WithCurrent())
	require.NoError(t, err)
	defer m.Close()
	assert.NotEmpty(t, m.ID())

	require.NoError(t, ch.Put(testCtx(t), math.E))
	assert.Equal(t, 0.0, next(t, m))
	assert.Equal(t, math.E, next(t, m))

	require.NoError(t, ch.Put(testCtx(t), math.Pi))
	assert.Equal(t, math.Pi, next(t, m))
}

func TestMonitor_CurrentSuppressesRepeatedFirstUpdate(t *testing.T) {
	c, p := memoryClient(t, Config{}, memory.WithChannel("pv:x", 5.0))
	ch := connect(t, c, "pv:x")

	m, err := ch.Monitor(testCtx(t), WithCurrent())
	require.NoError(t, err)
	defer m.Close()

	p.Set("pv:x", 5.0)
	p.Set("pv:x", 6.0)

	assert.Equal(t, 5.0, next(t, m))
	assert.Equal(t, 6.0, next(t, m), "the repeated current value is not delivered twice")
}

func TestMonitor_WithoutCurrentWaitsForUpdate(t *testing.T) {
	c, p := memoryClient(t, Config{}, memory.WithChannel("pv:x", 5.0))
	ch := connect(t, c, "pv:x")

	m, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = m.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, m.Closed(), "a cancelled Next leaves the monitor open")

	p.Set("pv:x", 7.0)
	assert.Equal(t, 7.0, next(t, m))
}

func TestMonitor_OrderedSubsequenceEndsWithLatest(t *testing.T) {
	const n = 2000
	c, p := memoryClient(t, Config{}, memory.WithChannel("pv:ramp", 0))
	ch := connect(t, c, "pv:ramp")

	m, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)
	defer m.Close()

	go func() {
		for i := 1; i <= n; i++ {
			p.Set("pv:ramp", i)
		}
	}()

	last := 0
	for last != n {
		v := next(t, m).(int)
		require.Greater(t, v, last, "updates arrive in order without repeats")
		last = v
		time.Sleep(10 * time.Microsecond)
	}
	assert.Equal(t, n, last)
}

func TestMonitor_IndependentMonitors(t *testing.T) {
	c, p := memoryClient(t, Config{}, memory.WithChannel("pv:x", 0))
	ch := connect(t, c, "pv:x")

	m1, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)
	m2, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)
	defer m2.Close()

	p.Set("pv:x", 1)
	assert.Equal(t, 1, next(t, m1))
	assert.Equal(t, 1, next(t, m2))

	require.NoError(t, m1.Close())
	p.Set("pv:x", 2)
	assert.Equal(t, 2, next(t, m2), "closing one monitor leaves the other subscribed")

	v, ok, err := m1.Next(testCtx(t))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestMonitor_CloseWakesParkedNext(t *testing.T) {
	c, _ := memoryClient(t, Config{}, memory.WithChannel("pv:x", 0))
	ch := connect(t, c, "pv:x")

	m, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, ok, err := m.Next(context.Background())
		done <- result{ok, err}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ch.Close())

	select {
	case r := <-done:
		assert.NoError(t, r.err)
		assert.False(t, r.ok)
	case <-time.After(wait):
		t.Fatal("Next stayed parked after the channel closed")
	}
	assert.True(t, m.Closed())
}

func TestMonitor_ValuesClosesOnBreak(t *testing.T) {
	c, p := memoryClient(t, Config{}, memory.WithChannel("pv:x", 1))
	ch := connect(t, c, "pv:x")

	m, err := ch.Monitor(testCtx(t), WithCurrent())
	require.NoError(t, err)

	got := 0
	for v, err := range m.Values(testCtx(t)) {
		require.NoError(t, err)
		got = v.(int)
		if got == 1 {
			p.Set("pv:x", 2)
			continue
		}
		break
	}
	assert.Equal(t, 2, got)
	assert.True(t, m.Closed())
}

func TestMonitor_ValuesYieldsContextError(t *testing.T) {
	c, _ := memoryClient(t, Config{}, memory.WithChannel("pv:x", 1))
	ch := connect(t, c, "pv:x")

	m, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var last error
	for _, err := range m.Values(ctx) {
		last = err
	}
	assert.ErrorIs(t, last, context.DeadlineExceeded)
	assert.True(t, m.Closed())
}

func TestMonitor_CountsDroppedUpdates(t *testing.T) {
	c, p := memoryClient(t, Config{}, memory.WithChannel("pv:x", 0))
	ch := connect(t, c, "pv:x")

	m, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)
	defer m.Close()

	for i := 1; i <= 10; i++ {
		p.Set("pv:x", i)
	}
	assert.Eventually(t, func() bool { return m.Dropped() == 8 }, wait, time.Millisecond)
	assert.Equal(t, 1, next(t, m))
	assert.Equal(t, 10, next(t, m))
}

func TestMonitor_CustomEqual(t *testing.T) {
	c, p := memoryClient(t, Config{}, memory.WithChannel("pv:x", 1.0))
	ch := connect(t, c, "pv:x")

	near := func(a, b provider.Value) bool {
		return math.Abs(a.(float64)-b.(float64)) < 0.5
	}
	m, err := ch.Monitor(testCtx(t), WithCurrent(), WithEqual(near))
	require.NoError(t, err)
	defer m.Close()

	p.Set("pv:x", 1.2)
	p.Set("pv:x", 3.0)
	assert.Equal(t, 1.0, next(t, m))
	assert.Equal(t, 3.0, next(t, m))
}

func TestMonitor_StreamingFollowsMonitors(t *testing.T) {
	c, _ := memoryClient(t, Config{}, memory.WithChannel("pv:x", 0))
	ch := connect(t, c, "pv:x")

	m1, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)
	m2, err := ch.Monitor(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 2, ch.streaming)

	_ = m1.Close()
	_ = m1.Close()
	assert.Equal(t, 1, ch.streaming)
	_ = m2.Close()
	assert.Equal(t, 0, ch.streaming)
}

func TestChannel_Watch(t *testing.T) {
	c, p := memoryClient(t, Config{}, memory.WithChannel("pv:x", 0))
	ch := connect(t, c, "pv:x")

	stop := errors.New("enough")
	var seen []int
	err := ch.Watch(testCtx(t), func(v provider.Value) error {
		seen = append(seen, v.(int))
		if v.(int) == 0 {
			p.Set("pv:x", 1)
			return nil
		}
		return stop
	}, WithCurrent())

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []int{0, 1}, seen)
}

func TestChannel_WaitFor(t *testing.T) {
	c, p := memoryClient(t, Config{}, memory.WithChannel("pv:temp", 10.0))
	ch := connect(t, c, "pv:temp")

	go func() {
		for _, v := range []float64{20, 30, 40} {
			time.Sleep(5 * time.Millisecond)
			p.Set("pv:temp", v)
		}
	}()

	v, err := ch.WaitFor(testCtx(t), func(v provider.Value) bool { return v.(float64) >= 30 })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v.(float64), 30.0)
}

func TestChannel_WaitForCurrentValue(t *testing.T) {
	c, _ := memoryClient(t, Config{}, memory.WithChannel("pv:temp", 50.0))
	ch := connect(t, c, "pv:temp")

	v, err := ch.WaitFor(testCtx(t), func(v provider.Value) bool { return v.(float64) >= 30 })
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)
}
