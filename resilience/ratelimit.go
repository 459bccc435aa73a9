package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Name labels the limiter domain in events and in the Facade.
	// Default: "default"
	Name string

	// Capacity is the maximum number of tokens the bucket holds.
	// Default: 50
	Capacity int

	// RefillRate is the number of tokens added per second.
	// Default: 10
	RefillRate float64

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time

	// Observer receives EventRateLimited events.
	Observer Observer
}

// RateLimiter implements a token bucket that refills lazily on access.
// Requests over budget are rejected immediately; the limiter never blocks.
type RateLimiter struct {
	config   RateLimiterConfig
	observer Observer
	bucket   atomic.Pointer[rate.Limiter]
}

// NewRateLimiter creates a new rate limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Capacity <= 0 {
		config.Capacity = 50
	}
	if config.RefillRate <= 0 {
		config.RefillRate = 10
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	rl := &RateLimiter{
		config:   config,
		observer: observerOrNoop(config.Observer),
	}
	rl.bucket.Store(rl.newBucket())
	return rl
}

func (rl *RateLimiter) newBucket() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(rl.config.RefillRate), rl.config.Capacity)
}

// Allow checks if a single request is allowed under the rate limit.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN consumes cost tokens if they are available and reports whether the
// request was admitted. A cost above Capacity is never admitted.
func (rl *RateLimiter) AllowN(cost int) bool {
	return rl.allow(context.Background(), cost)
}

func (rl *RateLimiter) allow(ctx context.Context, cost int) bool {
	if cost >= 0 && rl.bucket.Load().AllowN(rl.config.Now(), cost) {
		return true
	}
	rl.observer.Observe(ctx, Event{
		Kind:      EventRateLimited,
		Component: "ratelimit",
		Name:      rl.config.Name,
		Cost:      cost,
	})
	return false
}

// Execute runs the operation if a single token is available.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	return rl.ExecuteN(ctx, 1, op)
}

// ExecuteN runs the operation if cost tokens are available and returns
// ErrRateLimitExceeded otherwise.
func (rl *RateLimiter) ExecuteN(ctx context.Context, cost int, op func(context.Context) error) error {
	if !rl.allow(ctx, cost) {
		return ErrRateLimitExceeded
	}
	return op(ctx)
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	return rl.bucket.Load().TokensAt(rl.config.Now())
}

// Name returns the limiter domain name.
func (rl *RateLimiter) Name() string {
	return rl.config.Name
}

// Capacity returns the bucket size.
func (rl *RateLimiter) Capacity() int {
	return rl.config.Capacity
}

// RefillRate returns the refill rate in tokens per second.
func (rl *RateLimiter) RefillRate() float64 {
	return rl.config.RefillRate
}

// Reset refills the bucket to capacity.
func (rl *RateLimiter) Reset() {
	rl.bucket.Store(rl.newBucket())
}
