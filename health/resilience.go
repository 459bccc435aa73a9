package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/relia/resilience"
)

// CircuitCheckerConfig configures NewCircuitChecker.
type CircuitCheckerConfig struct {
	// UnhealthyRatio is the share of open circuits at or above which the
	// check reports unhealthy instead of degraded. Zero never escalates.
	UnhealthyRatio float64
}

// CircuitChecker reports the circuits of a breaker. Any open or half-open
// circuit degrades the result.
type CircuitChecker struct {
	cb     *resilience.CircuitBreaker
	config CircuitCheckerConfig
}

// NewCircuitChecker creates a checker over cb.
func NewCircuitChecker(cb *resilience.CircuitBreaker, config ...CircuitCheckerConfig) *CircuitChecker {
	c := &CircuitChecker{cb: cb}
	if len(config) > 0 {
		c.config = config[0]
	}
	return c
}

// Name returns "circuits".
func (c *CircuitChecker) Name() string {
	return "circuits"
}

// Check inspects every known circuit.
func (c *CircuitChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	snaps := c.cb.Snapshots()
	details := make(map[string]any, len(snaps))
	var open, halfOpen []string
	for _, s := range snaps {
		details[s.Service] = s.State.String()
		switch s.State {
		case resilience.StateOpen:
			open = append(open, s.Service)
		case resilience.StateHalfOpen:
			halfOpen = append(halfOpen, s.Service)
		}
	}

	switch {
	case len(open) == 0 && len(halfOpen) == 0:
		return Healthy(fmt.Sprintf("%d circuits closed", len(snaps))).WithDetails(details)
	case c.config.UnhealthyRatio > 0 && float64(len(open))/float64(len(snaps)) >= c.config.UnhealthyRatio:
		return Unhealthy("circuits open: "+strings.Join(open, ", "), ErrCheckFailed).WithDetails(details)
	case len(open) > 0:
		return Degraded("circuits open: " + strings.Join(open, ", ")).WithDetails(details)
	default:
		return Degraded("circuits probing: " + strings.Join(halfOpen, ", ")).WithDetails(details)
	}
}

// LimiterCheckerConfig configures NewLimiterChecker.
type LimiterCheckerConfig struct {
	// LowWatermark is the fraction of capacity below which a limiter is
	// reported as nearly exhausted.
	// Default: 0.1
	LowWatermark float64
}

// LimiterChecker reports the token levels of rate limiters. A limiter
// below its low watermark degrades the result; rate limiting is never
// unhealthy on its own.
type LimiterChecker struct {
	limiters func() []*resilience.RateLimiter
	config   LimiterCheckerConfig
}

// NewLimiterChecker creates a checker over the limiters of f.
func NewLimiterChecker(f *resilience.Facade, config ...LimiterCheckerConfig) *LimiterChecker {
	var cfg LimiterCheckerConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark >= 1 {
		cfg.LowWatermark = 0.1
	}
	return &LimiterChecker{limiters: f.Limiters, config: cfg}
}

// Name returns "limiters".
func (l *LimiterChecker) Name() string {
	return "limiters"
}

// Check inspects every limiter's current level.
func (l *LimiterChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	limiters := l.limiters()
	details := make(map[string]any, len(limiters))
	var low []string
	for _, rl := range limiters {
		tokens := rl.Tokens()
		details[rl.Name()] = map[string]any{
			"tokens":      tokens,
			"capacity":    rl.Capacity(),
			"refill_rate": rl.RefillRate(),
		}
		if tokens < float64(rl.Capacity())*l.config.LowWatermark {
			low = append(low, rl.Name())
		}
	}

	if len(low) > 0 {
		return Degraded("limiters nearly exhausted: " + strings.Join(low, ", ")).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%d limiters within budget", len(limiters))).WithDetails(details)
}

// RegisterFacade registers the circuit and limiter checkers of f on agg.
// Components the facade does not carry are skipped.
func RegisterFacade(agg *Aggregator, f *resilience.Facade) {
	if cb := f.CircuitBreaker(); cb != nil {
		agg.Register("circuits", NewCircuitChecker(cb))
	}
	if len(f.Limiters()) > 0 {
		agg.Register("limiters", NewLimiterChecker(f))
	}
}

// CircuitResponse is the JSON form of one circuit.
type CircuitResponse struct {
	Service           string `json:"service"`
	State             string `json:"state"`
	Failures          int    `json:"failures"`
	HalfOpenSuccesses int    `json:"half_open_successes"`
	OpenUntil         string `json:"open_until,omitempty"`
	LastFailure       string `json:"last_failure,omitempty"`
}

func circuitResponse(s resilience.CircuitSnapshot) CircuitResponse {
	resp := CircuitResponse{
		Service:           s.Service,
		State:             s.State.String(),
		Failures:          s.Failures,
		HalfOpenSuccesses: s.HalfOpenSuccesses,
	}
	if !s.OpenUntil.IsZero() {
		resp.OpenUntil = s.OpenUntil.UTC().Format(time.RFC3339)
	}
	if !s.LastFailure.IsZero() {
		resp.LastFailure = s.LastFailure.UTC().Format(time.RFC3339)
	}
	return resp
}
