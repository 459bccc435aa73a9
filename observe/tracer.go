package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/relia/resilience"
)

// OpMeta describes a protected call for telemetry purposes.
type OpMeta struct {
	Name    string   // Operation name (required)
	Service string   // Downstream service, also the circuit key (optional)
	Limiter string   // Rate limit domain (optional)
	Tags    []string // Free-form tags (optional)
}

// MetaFromCall builds an OpMeta for an operation named name that runs with
// call.
func MetaFromCall(name string, call resilience.Call) OpMeta {
	return OpMeta{
		Name:    name,
		Service: call.Service,
		Limiter: call.Limiter,
	}
}

// SpanName returns the deterministic span name for this operation.
// Format: relia.call.<service>.<name> or relia.call.<name>
func (m OpMeta) SpanName() string {
	return "relia.call." + m.OpID()
}

// OpID returns the operation identifier, qualified by service when set.
func (m OpMeta) OpID() string {
	if m.Service != "" {
		return m.Service + "." + m.Name
	}
	return m.Name
}

// Tracer wraps OpenTelemetry tracing with per-operation span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for an operation.
	StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error and its class.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("op.id", meta.OpID()),
		attribute.String("op.name", meta.Name),
		attribute.Bool("op.error", false),
	}
	if meta.Service != "" {
		attrs = append(attrs, attribute.String("op.service", meta.Service))
	}
	if meta.Limiter != "" {
		attrs = append(attrs, attribute.String("op.limiter", meta.Limiter))
	}
	if len(meta.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice("op.tags", meta.Tags))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.Bool("op.error", true),
			attribute.String("op.error_class", resilience.Classify(err).String()),
		)
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
