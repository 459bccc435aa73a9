package config

import (
	"github.com/jonwraymond/relia/resilience"
)

// Build constructs a Facade from the profile. Every component reports to
// observer, which may be nil. Each call returns independent components.
func (p Profile) Build(observer resilience.Observer) (*resilience.Facade, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var opts []resilience.FacadeOption

	for _, name := range sortedKeys(p.Limiters) {
		l := p.Limiters[name]
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Name:       name,
			Capacity:   l.Capacity,
			RefillRate: l.RefillRate,
			Observer:   observer,
		})))
	}

	if c := p.Circuit; c != nil {
		opts = append(opts, resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold:         c.FailureThreshold,
			ResetTimeout:             c.ResetTimeout,
			HalfOpenSuccessThreshold: c.HalfOpenSuccessThreshold,
			Observer:                 observer,
		})))
	}

	if p.Dedup {
		opts = append(opts, resilience.WithDeduplicator(resilience.NewDeduplicator(resilience.DeduplicatorConfig{
			Observer: observer,
		})))
	}

	if r := p.Retry; r != nil {
		opts = append(opts, resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxRetries:   r.MaxRetries,
			InitialDelay: r.InitialDelay,
			Multiplier:   r.Multiplier,
			MaxDelay:     r.MaxDelay,
			Jitter:       r.Jitter,
			Observer:     observer,
		})))
	}

	if b := p.Bulkhead; b != nil {
		opts = append(opts, resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: b.MaxConcurrent,
			MaxWait:       b.MaxWait,
			Observer:      observer,
		})))
	}

	if p.Timeout > 0 {
		opts = append(opts, resilience.WithTimeout(resilience.NewTimeout(resilience.TimeoutConfig{
			Timeout:  p.Timeout,
			Observer: observer,
		})))
	}

	opts = append(opts, resilience.WithOrder(p.Order...))

	return resilience.NewFacade(opts...), nil
}
