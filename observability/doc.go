// Package observability wires pvkit into OpenTelemetry.
//
// Setup installs OTLP/HTTP meter and tracer providers from a Config:
//
//	providers, err := observability.Setup(ctx, cfg)
//	defer providers.Shutdown(ctx)
//
// Channel clients record through Metrics and trace through Begin/End:
//
//	metrics, err := observability.NewMetrics(observability.Meter("pvkit"))
//	ctx, op := observability.Begin(ctx, tracer, metrics, observability.OpGet, "pv:ai")
//	defer func() { op.End(err) }()
package observability
