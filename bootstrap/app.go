package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/pvkit/channel"
	"github.com/kbukum/pvkit/component"
	"github.com/kbukum/pvkit/config"
	"github.com/kbukum/pvkit/logger"
	"github.com/kbukum/pvkit/observability"
	"github.com/kbukum/pvkit/provider"
	"github.com/kbukum/pvkit/provider/memory"
)

// App owns the components of one pvkit application.
type App struct {
	Name       string
	Cfg        *config.Config
	Components *component.Registry
	Client     *channel.Client
	Logger     *logger.Logger
	Telemetry  *observability.Providers

	gracefulTimeout   time.Duration
	unregisterLoggers func()
	onStart           []Hook
	onStop            []Hook
}

// DefaultRegistry returns a registry with the built-in providers.
func DefaultRegistry() *provider.Registry {
	reg := provider.NewRegistry()
	reg.RegisterFactory(memory.DefaultName, memory.Factory)
	return reg
}

// NewApp builds the application from cfg. Defaults are applied and the
// configuration is validated first.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	o := &appOptions{gracefulTimeout: 15 * time.Second}
	for _, opt := range opts {
		opt(o)
	}

	app := &App{
		Name:            cfg.Name,
		Cfg:             cfg,
		Components:      component.NewRegistry(),
		gracefulTimeout: o.gracefulTimeout,
	}

	if o.logger != nil {
		app.Logger = o.logger
	} else {
		app.Logger = logger.New(&cfg.Logging, cfg.Name)
		logger.SetGlobalLogger(app.Logger)
	}

	telemetry, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("observability setup: %w", err)
	}
	app.Telemetry = telemetry

	app.unregisterLoggers = logger.RegisterComponents(app.Logger, &cfg.Logging,
		channel.LoggerName, channel.PoolLoggerName)
	fail := func(err error) (*App, error) {
		app.unregisterLoggers()
		_ = telemetry.Shutdown(ctx)
		return nil, err
	}

	clientOpts := []channel.Option{channel.WithLogger(logger.Get(channel.LoggerName))}
	if cfg.Observability.Enabled {
		metrics, err := observability.NewMetrics(observability.Meter(observability.TracerName))
		if err != nil {
			return fail(fmt.Errorf("metrics: %w", err))
		}
		clientOpts = append(clientOpts, channel.WithMetrics(metrics))
	}
	clientOpts = append(clientOpts, o.clientOpts...)

	var client *channel.Client
	if o.provider != nil {
		client, err = channel.New(cfg.Channel, o.provider, clientOpts...)
	} else {
		reg := o.registry
		if reg == nil {
			reg = DefaultRegistry()
		}
		client, err = channel.NewFromRegistry(cfg.Channel, reg, clientOpts...)
	}
	if err != nil {
		return fail(err)
	}
	app.Client = client

	if err := app.Components.Register(client); err != nil {
		return fail(err)
	}
	return app, nil
}

// RegisterComponent adds a component started after the channel client and
// stopped before it.
func (a *App) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// Start starts every component and runs the OnStart hooks.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("starting application", logger.Fields("name", a.Name, "version", a.Cfg.Version))

	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if err := runHooks(ctx, a.onStart); err != nil {
		return fmt.Errorf("onStart hook failed: %w", err)
	}
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("ready check reported issues", logger.Fields(logger.FieldError, err.Error()))
	}
	return nil
}

// ReadyCheck verifies that every registered component is healthy.
func (a *App) ReadyCheck(ctx context.Context) error {
	var unhealthy []string
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status == component.StatusHealthy {
			continue
		}
		detail := h.Name + "=" + string(h.Status)
		if h.Message != "" {
			detail += "(" + h.Message + ")"
		}
		unhealthy = append(unhealthy, detail)
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// RunTask starts the application, runs task with the channel client and
// shuts down when it returns. SIGINT and SIGTERM cancel the task's context.
func (a *App) RunTask(ctx context.Context, task func(ctx context.Context, client *channel.Client) error) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown()
		return err
	}

	taskCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	taskErr := task(taskCtx, a.Client)
	stop()

	if err := a.Shutdown(); err != nil && taskErr == nil {
		return err
	}
	return taskErr
}

// Run starts the application and blocks until a shutdown signal or ctx
// ends, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown()
		return err
	}
	a.WaitForSignal(ctx)
	return a.Shutdown()
}

// WaitForSignal blocks until SIGINT, SIGTERM or the end of ctx.
func (a *App) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info("received shutdown signal", logger.Fields("signal", sig.String()))
		return sig
	case <-ctx.Done():
		return nil
	}
}

// Shutdown runs the OnStop hooks, stops every component in reverse order
// and flushes telemetry, all within the graceful timeout.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var errs []error
	if err := runHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("onStop hook error", logger.Fields(logger.FieldError, err.Error()))
		errs = append(errs, err)
	}
	if err := a.Components.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.unregisterLoggers != nil {
		a.unregisterLoggers()
	}

	a.Logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
