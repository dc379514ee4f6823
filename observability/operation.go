package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Operation names used for spans and metrics.
const (
	OpConnect = "connect"
	OpGet     = "get"
	OpPut     = "put"
	OpMonitor = "monitor"
)

// Operation outcomes.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Operation tracks one traced and timed channel operation.
type Operation struct {
	name    string
	start   time.Time
	span    trace.Span
	metrics *Metrics
	ctx     context.Context
}

// Begin starts a span named "channel.<op>" on tracer and returns the
// derived context. A nil tracer uses the global provider; nil metrics skip
// recording.
func Begin(ctx context.Context, tracer trace.Tracer, metrics *Metrics, op, channel string, attrs ...attribute.KeyValue) (context.Context, *Operation) {
	if tracer == nil {
		tracer = Tracer(TracerName)
	}
	attrs = append(attrs,
		attribute.String(AttrChannel, channel),
		attribute.String(AttrOperation, op),
	)
	ctx, span := tracer.Start(ctx, "channel."+op, trace.WithAttributes(attrs...))
	return ctx, &Operation{
		name:    op,
		start:   time.Now(),
		span:    span,
		metrics: metrics,
		ctx:     ctx,
	}
}

// Span returns the operation's span.
func (o *Operation) Span() trace.Span { return o.span }

// End finishes the span and records the duration under the outcome derived
// from err.
func (o *Operation) End(err error) {
	o.EndWith(err, func(ctx context.Context, status string, d time.Duration) {
		o.metrics.RecordOperation(ctx, o.name, status, d)
	})
}

// EndWith is End with a custom recorder for the duration.
func (o *Operation) EndWith(err error, record func(ctx context.Context, status string, d time.Duration)) {
	d := time.Since(o.start)
	status := StatusOf(err)

	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.SetAttributes(
		attribute.String(AttrStatus, status),
		attribute.Int64(AttrDurationMs, d.Milliseconds()),
	)
	o.span.End()

	if record != nil {
		record(context.WithoutCancel(o.ctx), status, d)
	}
}

// StatusOf maps an operation error to its outcome label.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled
	default:
		return StatusError
	}
}
