package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/relia/resilience"
)

// EventRecorder is a resilience.Observer that turns component events into
// metrics and log lines.
//
// Circuit transitions and timeouts log at warn, retry exhaustion at error,
// and everything else at debug.
type EventRecorder struct {
	logger      Logger
	events      metric.Int64Counter
	transitions metric.Int64Counter
	retryDelay  metric.Float64Histogram
}

var _ resilience.Observer = (*EventRecorder)(nil)

// NewEventRecorder creates the event instruments on meter. A nil logger
// disables logging.
func NewEventRecorder(meter metric.Meter, logger Logger) (*EventRecorder, error) {
	if logger == nil {
		logger = NopLogger()
	}

	events, err := meter.Int64Counter(
		"relia.events",
		metric.WithDescription("Resilience component decisions by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"relia.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	retryDelay, err := meter.Float64Histogram(
		"relia.retry.delay_ms",
		metric.WithDescription("Backoff delay before each retry in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &EventRecorder{
		logger:      logger,
		events:      events,
		transitions: transitions,
		retryDelay:  retryDelay,
	}, nil
}

// Observe implements resilience.Observer.
func (r *EventRecorder) Observe(ctx context.Context, ev resilience.Event) {
	attrs := []attribute.KeyValue{
		attribute.String("event.kind", ev.Kind.String()),
		attribute.String("component", ev.Component),
	}
	if ev.Name != "" {
		attrs = append(attrs, attribute.String("name", ev.Name))
	}
	r.events.Add(ctx, 1, metric.WithAttributes(attrs...))

	fields := eventFields(ev)

	switch ev.Kind {
	case resilience.EventStateChange:
		r.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", ev.Key),
			attribute.String("from", ev.From.String()),
			attribute.String("to", ev.To.String()),
		))
		r.logger.Warn(ctx, "circuit state changed", fields...)

	case resilience.EventRetry:
		r.retryDelay.Record(ctx, float64(ev.Delay)/float64(time.Millisecond))
		r.logger.Debug(ctx, "retrying", fields...)

	case resilience.EventRetryExhausted:
		r.logger.Error(ctx, "retries exhausted", fields...)

	case resilience.EventTimeout:
		r.logger.Warn(ctx, "operation timed out", fields...)

	default:
		r.logger.Debug(ctx, ev.Kind.String(), fields...)
	}
}

func eventFields(ev resilience.Event) []Field {
	fields := []Field{{Key: "component", Value: ev.Component}}
	if ev.Name != "" {
		fields = append(fields, Field{Key: "name", Value: ev.Name})
	}
	if ev.Key != "" {
		fields = append(fields, Field{Key: "key", Value: ev.Key})
	}
	switch ev.Kind {
	case resilience.EventStateChange:
		fields = append(fields,
			Field{Key: "from", Value: ev.From.String()},
			Field{Key: "to", Value: ev.To.String()},
		)
	case resilience.EventRateLimited:
		fields = append(fields, Field{Key: "cost", Value: ev.Cost})
	case resilience.EventRetry:
		fields = append(fields, Field{Key: "delay_ms", Value: ev.Delay.Milliseconds()})
	}
	if ev.Attempt > 0 {
		fields = append(fields, Field{Key: "attempt", Value: ev.Attempt})
	}
	if ev.Err != nil {
		fields = append(fields, Field{Key: "error", Value: ev.Err.Error()})
	}
	return fields
}

// RegisterGauges publishes the circuit states and limiter levels of f as
// observable gauges. The returned registration stops the callbacks.
func RegisterGauges(meter metric.Meter, f *resilience.Facade) (metric.Registration, error) {
	circuitState, err := meter.Int64ObservableGauge(
		"relia.circuit.state",
		metric.WithDescription("Circuit state per service: 0 closed, 1 open, 2 half-open"),
	)
	if err != nil {
		return nil, err
	}

	tokens, err := meter.Float64ObservableGauge(
		"relia.ratelimit.tokens",
		metric.WithDescription("Tokens currently available per rate limit domain"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if cb := f.CircuitBreaker(); cb != nil {
			for _, s := range cb.Snapshots() {
				o.ObserveInt64(circuitState, int64(s.State),
					metric.WithAttributes(attribute.String("service", s.Service)))
			}
		}
		for _, rl := range f.Limiters() {
			o.ObserveFloat64(tokens, rl.Tokens(),
				metric.WithAttributes(attribute.String("limiter", rl.Name())))
		}
		return nil
	}, circuitState, tokens)
}
