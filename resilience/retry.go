package resilience

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// A negative value disables retries.
	// Default: 3
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	// Default: 2s
	InitialDelay time.Duration

	// Multiplier grows the delay after each retry.
	// Default: 2.0
	Multiplier float64

	// MaxDelay caps the delay between retries.
	// Default: 0 (uncapped)
	MaxDelay time.Duration

	// Jitter randomizes each delay by up to ±Jitter of its value. The
	// default keeps delays deterministic, so callers that fail together
	// also retry together.
	// Default: 0
	Jitter float64

	// Classifier decides which errors are retried.
	// Default: DefaultClassifier
	Classifier Classifier

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits for d or until ctx is done.
	// Default: a timer that honors ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error

	// Observer receives EventRetry, EventRetryExhausted and EventGaveUp.
	Observer Observer
}

// Retry implements bounded retry with exponential backoff.
type Retry struct {
	config   RetryConfig
	observer Observer
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	} else if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 2 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.MaxDelay < 0 {
		config.MaxDelay = 0
	}
	if config.Jitter < 0 || config.Jitter >= 1 {
		config.Jitter = 0
	}
	if config.Classifier == nil {
		config.Classifier = DefaultClassifier
	}
	if config.Sleep == nil {
		config.Sleep = sleepWithContext
	}

	return &Retry{
		config:   config,
		observer: observerOrNoop(config.Observer),
	}
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// MaxRetries retries have failed. In the last case it returns a
// *RetryExhaustedError wrapping the final error.
//
// Cancelling ctx stops the loop between attempts; an attempt already
// running is not interrupted by the loop.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	b := r.newBackOff()
	attempts := r.config.MaxRetries + 1

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if !r.config.Classifier.ShouldRetry(err) {
			r.observer.Observe(ctx, Event{
				Kind:      EventGaveUp,
				Component: "retry",
				Attempt:   attempt,
				Err:       err,
			})
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return perm.Err
			}
			return err
		}

		if attempt >= attempts {
			r.observer.Observe(ctx, Event{
				Kind:      EventRetryExhausted,
				Component: "retry",
				Attempt:   attempt,
				Err:       err,
			})
			return &RetryExhaustedError{Attempts: attempt, Last: err}
		}

		delay := b.NextBackOff()
		var after *backoff.RetryAfterError
		if errors.As(err, &after) {
			delay = after.Duration
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		r.observer.Observe(ctx, Event{
			Kind:      EventRetry,
			Component: "retry",
			Attempt:   attempt,
			Delay:     delay,
			Err:       err,
		})

		if err := r.config.Sleep(ctx, delay); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

// newBackOff returns a fresh schedule; ExponentialBackOff is not safe for
// concurrent use, so every Execute gets its own.
func (r *Retry) newBackOff() *backoff.ExponentialBackOff {
	maxDelay := r.config.MaxDelay
	if maxDelay == 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.config.InitialDelay,
		RandomizationFactor: r.config.Jitter,
		Multiplier:          r.config.Multiplier,
		MaxInterval:         maxDelay,
	}
	b.Reset()
	return b
}

// DoWithRetry is a typed wrapper around Retry.Execute.
func DoWithRetry[T any](ctx context.Context, r *Retry, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			result = v
		}
		return err
	})
	return result, err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
