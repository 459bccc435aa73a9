package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/relia/resilience"
)

// Metrics records per-call metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records a call with its duration and outcome.
	RecordCall(ctx context.Context, meta OpMeta, duration time.Duration, err error)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates the call instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"relia.call.total",
		metric.WithDescription("Total number of protected calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"relia.call.errors",
		metric.WithDescription("Protected calls that returned an error, by error class"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"relia.call.duration_ms",
		metric.WithDescription("Protected call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
	}, nil
}

func (m *metricsImpl) RecordCall(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("op.id", meta.OpID()),
		attribute.String("op.name", meta.Name),
	}
	if meta.Service != "" {
		attrs = append(attrs, attribute.String("op.service", meta.Service))
	}
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, metric.WithAttributes(append(attrs,
			attribute.String("error.class", resilience.Classify(err).String()))...))
	}
	m.durationHist.Record(ctx, float64(duration)/float64(time.Millisecond), opt)
}

type noopMetrics struct{}

func (noopMetrics) RecordCall(context.Context, OpMeta, time.Duration, error) {}
