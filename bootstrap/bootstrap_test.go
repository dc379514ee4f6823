package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/pvkit/channel"
	"github.com/kbukum/pvkit/component"
	"github.com/kbukum/pvkit/config"
	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/logger"
	"github.com/kbukum/pvkit/provider"
	"github.com/kbukum/pvkit/provider/memory"
)

func testConfig() *config.Config {
	return &config.Config{
		Name: "test-app",
		Channel: channel.Config{
			Provider:        "memory",
			ProviderOptions: map[string]any{"channels": map[string]any{"pv:x": 1.0}},
		},
	}
}

func TestNewApp(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(), WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if app.Name != "test-app" {
		t.Errorf("expected name 'test-app', got %q", app.Name)
	}
	if app.Client == nil {
		t.Fatal("expected a channel client")
	}
	if app.Components.Get("test-app") == nil {
		t.Error("expected the client to be registered under the application name")
	}
	if app.Telemetry == nil || app.Telemetry.Meter != nil {
		t.Error("expected telemetry to be disabled by default")
	}
}

func TestNewAppInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "qa"
	if _, err := NewApp(context.Background(), cfg, WithLogger(logger.NewNop())); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNewAppUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Channel.Provider = "ca"
	_, err := NewApp(context.Background(), cfg, WithLogger(logger.NewNop()), WithRegistry(provider.NewRegistry()))
	if !apperrors.HasCode(err, apperrors.ErrCodeUnknownProvider) {
		t.Fatalf("expected UNKNOWN_PROVIDER, got %v", err)
	}
	if isRegistered(channel.LoggerName) {
		t.Error("expected a failed NewApp to unregister its component loggers")
	}
}

func isRegistered(name string) bool {
	for _, n := range logger.Registered() {
		if n == name {
			return true
		}
	}
	return false
}

func TestNewAppRegistersComponentLoggers(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Components = map[string]string{channel.LoggerName: "debug"}
	app, err := NewApp(context.Background(), cfg, WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	if !isRegistered(channel.LoggerName) || !isRegistered(channel.PoolLoggerName) {
		t.Errorf("expected channel and pool loggers, got %v", logger.Registered())
	}

	if err := app.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if isRegistered(channel.LoggerName) || isRegistered(channel.PoolLoggerName) {
		t.Errorf("expected Shutdown to unregister component loggers, got %v", logger.Registered())
	}
}

func TestNewAppRejectsInvalidComponentLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Components = map[string]string{channel.LoggerName: "loud"}
	if _, err := NewApp(context.Background(), cfg, WithLogger(logger.NewNop())); err == nil {
		t.Fatal("expected validation error for component level")
	}
}

func TestRunTask(t *testing.T) {
	p := memory.New(memory.WithChannel("pv:x", 1.0))
	app, err := NewApp(context.Background(), testConfig(), WithLogger(logger.NewNop()), WithProvider(p))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	var order []string
	app.OnStart(func(context.Context) error {
		order = append(order, "start")
		return nil
	})
	app.OnStop(func(context.Context) error {
		order = append(order, "stop")
		return nil
	})

	err = app.RunTask(context.Background(), func(ctx context.Context, c *channel.Client) error {
		order = append(order, "task")
		ch, err := c.Connect(ctx, "pv:x")
		if err != nil {
			return err
		}
		if err := ch.Put(ctx, 2.0); err != nil {
			return err
		}
		v, err := ch.Get(ctx)
		if err != nil {
			return err
		}
		if v != 2.0 {
			t.Errorf("expected 2.0, got %v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	if strings.Join(order, ",") != "start,task,stop" {
		t.Errorf("unexpected hook order %v", order)
	}
	if p.OpenHandles() != 0 {
		t.Errorf("expected shutdown to release every handle, %d open", p.OpenHandles())
	}
	if h := app.Client.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("expected stopped client, got %s", h.Status)
	}
}

func TestRunTaskReturnsTaskError(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(), WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	boom := errors.New("boom")
	err = app.RunTask(context.Background(), func(context.Context, *channel.Client) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestStartHookFailure(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(), WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	app.OnStart(func(context.Context) error { return errors.New("not ready") })

	ran := false
	err = app.RunTask(context.Background(), func(context.Context, *channel.Client) error {
		ran = true
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "onStart hook failed") {
		t.Fatalf("expected hook failure, got %v", err)
	}
	if ran {
		t.Error("task must not run after a failed start")
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(),
		WithLogger(logger.NewNop()),
		WithGracefulTimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := app.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := app.ReadyCheck(context.Background()); err == nil {
		t.Error("expected the stopped client to fail the ready check")
	}
}
