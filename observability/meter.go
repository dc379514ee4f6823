package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/pvkit/logger"
)

// Instrument names.
const (
	MetricConnectTotal       = "channel.connect.total"
	MetricOperationDuration  = "channel.operation.duration"
	MetricMonitorActive      = "channel.monitor.active"
	MetricMonitorDropped     = "channel.monitor.dropped"
	MetricCallbackViolations = "channel.callback.violations"
	MetricHandlesOpen        = "channel.handles.open"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider and installs it
// globally. The provider should be shut down on exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))
	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the channel instruments. A nil *Metrics records nothing.
type Metrics struct {
	connectTotal       metric.Int64Counter
	operationDuration  metric.Float64Histogram
	monitorActive      metric.Int64UpDownCounter
	monitorDropped     metric.Int64Counter
	callbackViolations metric.Int64Counter
	handlesOpen        metric.Int64UpDownCounter
}

// NewMetrics creates the channel instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.connectTotal, err = meter.Int64Counter(MetricConnectTotal,
		metric.WithDescription("Connect attempts by provider and outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricConnectTotal, err)
	}
	if m.operationDuration, err = meter.Float64Histogram(MetricOperationDuration,
		metric.WithDescription("Duration of channel operations in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricOperationDuration, err)
	}
	if m.monitorActive, err = meter.Int64UpDownCounter(MetricMonitorActive,
		metric.WithDescription("Open monitors"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricMonitorActive, err)
	}
	if m.monitorDropped, err = meter.Int64Counter(MetricMonitorDropped,
		metric.WithDescription("Monitor updates coalesced before delivery"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricMonitorDropped, err)
	}
	if m.callbackViolations, err = meter.Int64Counter(MetricCallbackViolations,
		metric.WithDescription("Completion callbacks delivered more than once"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricCallbackViolations, err)
	}
	if m.handlesOpen, err = meter.Int64UpDownCounter(MetricHandlesOpen,
		metric.WithDescription("Provider handles not yet released"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricHandlesOpen, err)
	}
	return &m, nil
}

// RecordConnect counts a connect attempt and records its duration.
func (m *Metrics) RecordConnect(ctx context.Context, provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.connectTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	m.RecordOperation(ctx, OpConnect, status, d)
}

// RecordOperation records the duration of a channel operation.
func (m *Metrics) RecordOperation(ctx context.Context, operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

// MonitorOpened increments the open monitor count.
func (m *Metrics) MonitorOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.monitorActive.Add(ctx, 1)
}

// MonitorClosed decrements the open monitor count and adds the monitor's
// coalesced updates.
func (m *Metrics) MonitorClosed(ctx context.Context, dropped uint64) {
	if m == nil {
		return
	}
	m.monitorActive.Add(ctx, -1)
	if dropped > 0 {
		m.monitorDropped.Add(ctx, int64(dropped))
	}
}

// RecordViolation counts a duplicate completion callback.
func (m *Metrics) RecordViolation(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.callbackViolations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// HandleOpened increments the open handle count.
func (m *Metrics) HandleOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.handlesOpen.Add(ctx, 1)
}

// HandleClosed decrements the open handle count.
func (m *Metrics) HandleClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.handlesOpen.Add(ctx, -1)
}
