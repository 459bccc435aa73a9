package resilience

import (
	"context"
	"errors"
	"time"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for the operation.
	// Default: 30 seconds
	Timeout time.Duration

	// Observer receives EventTimeout events.
	Observer Observer
}

// Timeout bounds how long a caller waits for an operation. The operation
// sees the deadline through its context; if it ignores it, it keeps running
// in the background after Execute has returned ErrTimeout.
type Timeout struct {
	config   TimeoutConfig
	observer Observer
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Timeout{
		config:   config,
		observer: observerOrNoop(config.Observer),
	}
}

// Execute runs the operation with a timeout.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := t.run(ctx, func(ctx context.Context) (any, error) {
		return nil, op(ctx)
	})
	return err
}

func (t *Timeout) run(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)

	go func() {
		v, err := op(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			t.observer.Observe(ctx, Event{
				Kind:      EventTimeout,
				Component: "timeout",
			})
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}
