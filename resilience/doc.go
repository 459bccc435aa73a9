// Package resilience protects calls to unreliable downstream services.
//
// It provides four primitives that can be used on their own or composed
// through a Facade:
//
//   - RateLimiter: a token bucket that refills lazily and rejects, never
//     queues, requests over budget.
//
//   - CircuitBreaker: one closed/open/half-open state machine per service
//     key. An open circuit fails fast with *CircuitOpenError until its reset
//     timeout elapses; a single half-open failure reopens it.
//
//   - Deduplicator: collapses concurrent calls sharing a key into one
//     execution whose result every caller receives. Nothing is cached.
//
//   - Retry: bounded retry with exponential backoff (2s, 4s, 8s by default,
//     no jitter) and error classification. Transient and unrecognized errors
//     are retried; Permanent errors, 4xx statuses and admission rejections
//     are not.
//
// Bulkhead and Timeout are available as supporting policies.
//
// # Usage
//
//	facade := resilience.NewFacade(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	        Capacity:   50,
//	        RefillRate: 10,
//	    })),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithDeduplicator(resilience.NewDeduplicator(resilience.DeduplicatorConfig{})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{})),
//	)
//
//	user, err := resilience.Do(ctx, facade, resilience.Call{
//	    Service:  "users-api",
//	    DedupKey: "user:42",
//	    Retry:    true,
//	}, func(ctx context.Context) (*User, error) {
//	    return client.GetUser(ctx, 42)
//	})
//
// Errors surfaced at the boundary are ErrRateLimitExceeded,
// *CircuitOpenError (matches ErrCircuitOpen) and *RetryExhaustedError
// (matches ErrMaxRetriesExceeded and unwraps to the last error).
//
// Components report decisions to an Observer; Counters is an Observer that
// keeps plain counters.
package resilience
