package observe

import (
	"context"
	"time"

	"github.com/jonwraymond/relia/resilience"
)

// ExecuteFunc is the signature Middleware wraps.
type ExecuteFunc func(ctx context.Context, meta OpMeta) (any, error)

// Middleware wraps calls with a span, call metrics and a log line.
//
// Contract:
//   - Concurrency: Wrap returns a function safe for concurrent use.
//   - Context: the span context is propagated to the wrapped function.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware. Nil components are replaced with
// no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps fn with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, meta OpMeta) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		result, err := fn(ctx, meta)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordCall(ctx, meta, duration, err)

		opLogger := m.logger.WithOp(meta)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration) / float64(time.Millisecond)},
		}
		if err != nil {
			fields = append(fields,
				Field{Key: "error", Value: err.Error()},
				Field{Key: "error_class", Value: resilience.Classify(err).String()},
			)
			opLogger.Error(ctx, "call failed", fields...)
		} else {
			opLogger.Debug(ctx, "call completed", fields...)
		}

		return result, err
	}
}

// Run executes op through f with call, instrumented as an operation named
// name.
func (m *Middleware) Run(ctx context.Context, f *resilience.Facade, name string, call resilience.Call, op func(context.Context) (any, error)) (any, error) {
	wrapped := m.Wrap(func(ctx context.Context, _ OpMeta) (any, error) {
		return f.Run(ctx, call, op)
	})
	return wrapped(ctx, MetaFromCall(name, call))
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
