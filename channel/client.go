package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kbukum/pvkit/component"
	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/logger"
	"github.com/kbukum/pvkit/observability"
	"github.com/kbukum/pvkit/provider"
	"github.com/kbukum/pvkit/resilience"
)

// Logger names looked up in the logger registry when no logger is given.
const (
	LoggerName     = "channel"
	PoolLoggerName = "channel.pool"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger. Defaults to logger.Get(LoggerName).
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics records channel metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer sets the tracer for operation spans. Defaults to the global
// tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithMiddleware wraps the provider. The first middleware is outermost.
func WithMiddleware(mw ...provider.Middleware) Option {
	return func(c *Client) { c.middleware = append(c.middleware, mw...) }
}

// Client connects channels through one provider and owns every Channel it
// returns until they are closed. It is safe for concurrent use.
type Client struct {
	cfg        Config
	provider   provider.Provider
	log        *logger.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	middleware []provider.Middleware
	limiter    *semaphore.Weighted

	mu       sync.Mutex
	channels map[*Channel]struct{}
	started  bool
	stopped  bool
}

var (
	_ component.Component   = (*Client)(nil)
	_ component.Describable = (*Client)(nil)
)

// New creates a client for p. cfg.Provider defaults to p.Name().
func New(cfg Config, p provider.Provider, opts ...Option) (*Client, error) {
	if p == nil {
		return nil, apperrors.InvalidConfig("provider is nil")
	}
	if cfg.Provider == "" {
		cfg.Provider = p.Name()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		channels: make(map[*Channel]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get(LoggerName)
	}
	c.log = c.log.WithFields(logger.Fields(logger.FieldProvider, p.Name()))

	mws := c.middleware
	if cfg.LogProviderCalls {
		mws = append([]provider.Middleware{provider.WithLogging(c.log)}, mws...)
	}
	c.provider = provider.Chain(mws...)(p)

	if cfg.MaxPendingConnects > 0 {
		c.limiter = semaphore.NewWeighted(cfg.MaxPendingConnects)
	}
	return c, nil
}

// NewFromRegistry creates the provider named by cfg.Provider from reg and
// returns a client for it.
func NewFromRegistry(cfg Config, reg *provider.Registry, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	p, err := reg.Create(cfg.Provider, cfg.ProviderOptions)
	if err != nil {
		return nil, err
	}
	return New(cfg, p, opts...)
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Provider returns the provider as wrapped by the configured middleware.
func (c *Client) Provider() provider.Provider { return c.provider }

// Name implements component.Component.
func (c *Client) Name() string { return c.cfg.Name }

// Start initializes the provider when it needs it.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return apperrors.InvalidConfig("client already stopped")
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if i, ok := c.provider.(provider.Initializable); ok {
		if err := i.Init(ctx); err != nil {
			return apperrors.Provider("init", err)
		}
	}
	c.log.Info("channel client started", logger.Fields("get_policy", string(c.cfg.GetPolicy)))
	return nil
}

// Stop closes every open channel and then the provider. Connects issued
// afterwards fail.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	open := make([]*Channel, 0, len(c.channels))
	for ch := range c.channels {
		open = append(open, ch)
	}
	c.mu.Unlock()

	for _, ch := range open {
		_ = ch.Close()
	}
	if cl, ok := c.provider.(provider.Closeable); ok {
		if err := cl.Close(ctx); err != nil {
			return apperrors.Provider("close", err)
		}
	}
	c.log.Info("channel client stopped", logger.Fields("closed_channels", len(open)))
	return nil
}

// Health reports healthy between Start and Stop.
func (c *Client) Health(_ context.Context) component.Health {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := component.Health{Name: c.cfg.Name, Status: component.StatusHealthy}
	switch {
	case c.stopped:
		h.Status = component.StatusUnhealthy
		h.Message = "stopped"
	case !c.started:
		h.Status = component.StatusUnhealthy
		h.Message = "not started"
	default:
		h.Message = fmt.Sprintf("%d open channels", len(c.channels))
	}
	return h
}

// Describe implements component.Describable.
func (c *Client) Describe() component.Description {
	return component.Description{
		Type:    "channel-client",
		Details: fmt.Sprintf("provider=%s get_policy=%s", c.provider.Name(), c.cfg.GetPolicy),
	}
}

// OpenChannels returns the number of channels holding a provider handle.
func (c *Client) OpenChannels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// Connect creates a handle for name and blocks until the provider reports
// the first connection. If ctx ends first the half-open handle is
// disconnected and an ErrCodeConnectionAbandoned error wrapping ctx.Err()
// is returned.
func (c *Client) Connect(ctx context.Context, name string) (_ *Channel, err error) {
	if c.isStopped() {
		return nil, apperrors.ChannelClosed(name).WithDetail("reason", "client stopped")
	}

	ctx, op := observability.Begin(ctx, c.tracer, nil, observability.OpConnect, name,
		attribute.String(observability.AttrProvider, c.provider.Name()))
	defer func() {
		op.EndWith(err, func(ctx context.Context, status string, d time.Duration) {
			c.metrics.RecordConnect(ctx, c.provider.Name(), status, d)
		})
	}()

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return nil, apperrors.ConnectionAbandoned(name).WithCause(err)
		}
		defer c.limiter.Release(1)
	}

	pending := newChannel(c, name)
	h, err := resilience.Retry(ctx, c.retryConfig(name), func() (provider.Handle, error) {
		h, err := c.provider.Connect(name, pending.onState)
		if err != nil {
			return nil, providerError("connect", err)
		}
		return h, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.ConnectionAbandoned(name).WithCause(ctxErr)
		}
		return nil, err
	}

	pending.attach(h)
	if err := c.track(pending); err != nil {
		pending.release()
		return nil, err
	}
	pending.ready.OnAbandon(pending.abandon)

	if _, err := pending.ready.Await(ctx); err != nil {
		pending.log.Debug("connect abandoned", logger.ErrorFields(observability.OpConnect, err))
		return nil, apperrors.ConnectionAbandoned(name).WithCause(err)
	}

	if c.cfg.GetPolicy == GetCached {
		if err := pending.startAutoStream(); err != nil {
			_ = pending.Close()
			return nil, err
		}
	}

	pending.log.Debug("channel connected", logger.Fields("element_count", pending.count))
	return pending, nil
}

// ConnectAll connects every name concurrently. If any connect fails the
// others are abandoned, every channel already connected is closed, and the
// first error is returned. Channels are returned in the order of names.
func (c *Client) ConnectAll(ctx context.Context, names ...string) ([]*Channel, error) {
	out := make([]*Channel, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			ch, err := c.Connect(gctx, name)
			if err != nil {
				return err
			}
			out[i] = ch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ch := range out {
			if ch != nil {
				_ = ch.Close()
			}
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) retryConfig(name string) resilience.RetryConfig {
	cfg := c.cfg.ConnectRetry
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		c.log.Warn("connect failed, retrying", logger.MergeWithError(logger.Fields(
			logger.FieldChannel, name,
			"attempt", attempt,
			"backoff", backoff.String(),
		), err))
	}
	return cfg
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) track(ch *Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return apperrors.ChannelClosed(ch.name).WithDetail("reason", "client stopped")
	}
	c.channels[ch] = struct{}{}
	c.metrics.HandleOpened(context.Background())
	return nil
}

func (c *Client) untrack(ch *Channel) {
	c.mu.Lock()
	_, ok := c.channels[ch]
	delete(c.channels, ch)
	c.mu.Unlock()
	if ok {
		c.metrics.HandleClosed(context.Background())
	}
}

// violation handles a completion callback that fired more than once. It
// runs on the provider goroutine that delivered the duplicate.
func (c *Client) violation(op, channel string, err error) {
	c.log.Error("completion callback delivered more than once", logger.MergeWithError(
		logger.Fields(logger.FieldChannel, channel, logger.FieldOperation, op), err))
	c.metrics.RecordViolation(context.Background(), op)
	if c.cfg.OnViolation == ViolationPanic {
		panic(fmt.Errorf("channel %s: %s: %w", channel, op, err))
	}
}

func providerError(op string, err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.Provider(op, err)
}
