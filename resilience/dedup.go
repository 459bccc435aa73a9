package resilience

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DeduplicatorConfig configures the deduplicator.
type DeduplicatorConfig struct {
	// Name labels the deduplicator in events.
	// Default: "default"
	Name string

	// Observer receives EventDedupExecuted and EventDedupShared events.
	Observer Observer
}

// Deduplicator collapses concurrent calls that share a key into a single
// execution. It does not cache: once an execution completes, the next call
// for the same key runs the operation again.
type Deduplicator struct {
	config   DeduplicatorConfig
	observer Observer
	group    singleflight.Group
	inflight atomic.Int64
}

// NewDeduplicator creates a new deduplicator.
func NewDeduplicator(config DeduplicatorConfig) *Deduplicator {
	if config.Name == "" {
		config.Name = "default"
	}
	return &Deduplicator{
		config:   config,
		observer: observerOrNoop(config.Observer),
	}
}

// Execute runs op for key, or attaches to the execution already in flight
// for key. Every attached caller receives the same value and error.
//
// op runs with a context that keeps ctx's values but not its cancellation,
// because other callers may be waiting on it. Cancelling ctx only detaches
// this caller, which then returns ctx.Err().
func (d *Deduplicator) Execute(ctx context.Context, key string, op func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shared := context.WithoutCancel(ctx)
	leader := false
	ch := d.group.DoChan(key, func() (v any, err error) {
		leader = true
		d.inflight.Add(1)
		defer d.inflight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, &PanicError{Key: key, Value: r}
			}
		}()

		d.observer.Observe(shared, Event{
			Kind:      EventDedupExecuted,
			Component: "dedup",
			Name:      d.config.Name,
			Key:       key,
		})
		return op(shared)
	})

	select {
	case res := <-ch:
		if !leader {
			d.observer.Observe(ctx, Event{
				Kind:      EventDedupShared,
				Component: "dedup",
				Name:      d.config.Name,
				Key:       key,
			})
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the number of keys currently executing.
func (d *Deduplicator) InFlight() int {
	return int(d.inflight.Load())
}

// Dedupe is a typed wrapper around Deduplicator.Execute.
func Dedupe[T any](ctx context.Context, d *Deduplicator, key string, op func(context.Context) (T, error)) (T, error) {
	v, err := d.Execute(ctx, key, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	var zero T
	if v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, err
	}
	return t, err
}
