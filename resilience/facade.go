package resilience

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Policy names one layer of the Facade chain.
type Policy string

// Policies understood by the Facade.
const (
	PolicyRateLimit Policy = "ratelimit"
	PolicyBulkhead  Policy = "bulkhead"
	PolicyCircuit   Policy = "circuit"
	PolicyDedup     Policy = "dedup"
	PolicyRetry     Policy = "retry"
	PolicyTimeout   Policy = "timeout"
)

// DefaultOrder is the outermost-first order used when neither the Facade nor
// the Call sets one.
var DefaultOrder = []Policy{
	PolicyRateLimit,
	PolicyBulkhead,
	PolicyCircuit,
	PolicyDedup,
	PolicyRetry,
	PolicyTimeout,
}

// ParsePolicy parses a policy name, ignoring case and surrounding space.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PolicyRateLimit, PolicyBulkhead, PolicyCircuit, PolicyDedup, PolicyRetry, PolicyTimeout:
		return p, nil
	}
	return "", fmt.Errorf("resilience: unknown policy %q", s)
}

// Call carries the per-call parameters of a Facade execution.
type Call struct {
	// Limiter selects the rate-limit domain. Empty selects the "default"
	// domain and skips rate limiting when there is none.
	Limiter string

	// Cost is the number of tokens the call consumes. Zero means 1.
	Cost int

	// Service is the circuit key. Empty skips the circuit breaker.
	Service string

	// DedupKey coalesces concurrent calls. Empty skips deduplication.
	DedupKey string

	// Retry enables the retry executor for this call.
	Retry bool

	// Order overrides the Facade order for this call, outermost first.
	Order []Policy
}

// Facade composes the resilience components. It holds no state of its own:
// every method delegates to a component and returns its result unchanged.
type Facade struct {
	limiters map[string]*RateLimiter
	breaker  *CircuitBreaker
	dedup    *Deduplicator
	retry    *Retry
	bulkhead *Bulkhead
	timeout  *Timeout
	order    []Policy
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// NewFacade creates a new facade.
func NewFacade(opts ...FacadeOption) *Facade {
	f := &Facade{
		limiters: make(map[string]*RateLimiter),
		order:    DefaultOrder,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithRateLimiter registers rl under rl.Name().
func WithRateLimiter(rl *RateLimiter) FacadeOption {
	return func(f *Facade) {
		f.limiters[rl.Name()] = rl
	}
}

// WithCircuitBreaker adds a circuit breaker to the facade.
func WithCircuitBreaker(cb *CircuitBreaker) FacadeOption {
	return func(f *Facade) {
		f.breaker = cb
	}
}

// WithDeduplicator adds a deduplicator to the facade.
func WithDeduplicator(d *Deduplicator) FacadeOption {
	return func(f *Facade) {
		f.dedup = d
	}
}

// WithRetry adds retry logic to the facade.
func WithRetry(r *Retry) FacadeOption {
	return func(f *Facade) {
		f.retry = r
	}
}

// WithBulkhead adds bulkhead isolation to the facade.
func WithBulkhead(b *Bulkhead) FacadeOption {
	return func(f *Facade) {
		f.bulkhead = b
	}
}

// WithTimeout adds a timeout to the facade.
func WithTimeout(t *Timeout) FacadeOption {
	return func(f *Facade) {
		f.timeout = t
	}
}

// WithOrder sets the default policy order, outermost first.
func WithOrder(order ...Policy) FacadeOption {
	return func(f *Facade) {
		if len(order) > 0 {
			f.order = append([]Policy(nil), order...)
		}
	}
}

type opFunc func(context.Context) (any, error)

// Run executes op through the policies selected by call, in order. A
// policy whose component is not configured, or which call does not
// address, is skipped.
func (f *Facade) Run(ctx context.Context, call Call, op func(context.Context) (any, error)) (any, error) {
	limiter, err := f.limiterFor(call.Limiter)
	if err != nil {
		return nil, err
	}

	order := call.Order
	if len(order) == 0 {
		order = f.order
	}

	next := opFunc(op)
	for i := len(order) - 1; i >= 0; i-- {
		next = f.wrap(order[i], call, limiter, next)
	}
	return next(ctx)
}

// Execute is Run for operations without a result.
func (f *Facade) Execute(ctx context.Context, call Call, op func(context.Context) error) error {
	_, err := f.Run(ctx, call, func(ctx context.Context) (any, error) {
		return nil, op(ctx)
	})
	return err
}

func (f *Facade) wrap(p Policy, call Call, limiter *RateLimiter, next opFunc) opFunc {
	switch p {
	case PolicyRateLimit:
		if limiter == nil {
			return next
		}
		cost := call.Cost
		if cost == 0 {
			cost = 1
		}
		return func(ctx context.Context) (any, error) {
			if !limiter.allow(ctx, cost) {
				return nil, ErrRateLimitExceeded
			}
			return next(ctx)
		}

	case PolicyBulkhead:
		if f.bulkhead == nil {
			return next
		}
		return func(ctx context.Context) (any, error) {
			return capture(ctx, next, f.bulkhead.Execute)
		}

	case PolicyCircuit:
		if f.breaker == nil || call.Service == "" {
			return next
		}
		return func(ctx context.Context) (any, error) {
			return capture(ctx, next, func(ctx context.Context, op func(context.Context) error) error {
				return f.breaker.Execute(ctx, call.Service, op)
			})
		}

	case PolicyDedup:
		if f.dedup == nil || call.DedupKey == "" {
			return next
		}
		return func(ctx context.Context) (any, error) {
			return f.dedup.Execute(ctx, call.DedupKey, next)
		}

	case PolicyRetry:
		if f.retry == nil || !call.Retry {
			return next
		}
		return func(ctx context.Context) (any, error) {
			return capture(ctx, next, f.retry.Execute)
		}

	case PolicyTimeout:
		if f.timeout == nil {
			return next
		}
		return func(ctx context.Context) (any, error) {
			return f.timeout.run(ctx, next)
		}
	}
	return next
}

// capture runs a result-returning op through an error-only executor.
func capture(ctx context.Context, op opFunc, exec func(context.Context, func(context.Context) error) error) (any, error) {
	var result any
	err := exec(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		result = v
		return err
	})
	return result, err
}

func (f *Facade) limiterFor(name string) (*RateLimiter, error) {
	if name == "" {
		return f.limiters["default"], nil
	}
	rl, ok := f.limiters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLimiter, name)
	}
	return rl, nil
}

// Allow consults the named limiter without running anything. A cost of
// zero means 1, as in Call.
func (f *Facade) Allow(limiter string, cost int) (bool, error) {
	rl, err := f.limiterFor(limiter)
	if err != nil {
		return false, err
	}
	if rl == nil {
		return false, fmt.Errorf("%w: %q", ErrUnknownLimiter, "default")
	}
	if cost == 0 {
		cost = 1
	}
	return rl.AllowN(cost), nil
}

// Guard runs op through the circuit for service only.
func (f *Facade) Guard(ctx context.Context, service string, op func(context.Context) error) error {
	return f.Execute(ctx, Call{Service: service, Order: []Policy{PolicyCircuit}}, op)
}

// Coalesce runs op through the deduplicator only.
func (f *Facade) Coalesce(ctx context.Context, key string, op func(context.Context) (any, error)) (any, error) {
	return f.Run(ctx, Call{DedupKey: key, Order: []Policy{PolicyDedup}}, op)
}

// Retry runs op through the retry executor only.
func (f *Facade) Retry(ctx context.Context, op func(context.Context) error) error {
	return f.Execute(ctx, Call{Retry: true, Order: []Policy{PolicyRetry}}, op)
}

// Limiter returns the limiter registered under name.
func (f *Facade) Limiter(name string) (*RateLimiter, bool) {
	rl, ok := f.limiters[name]
	return rl, ok
}

// Limiters returns every registered limiter, sorted by name.
func (f *Facade) Limiters() []*RateLimiter {
	list := make([]*RateLimiter, 0, len(f.limiters))
	for _, rl := range f.limiters {
		list = append(list, rl)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// CircuitBreaker returns the configured circuit breaker, or nil.
func (f *Facade) CircuitBreaker() *CircuitBreaker { return f.breaker }

// Deduplicator returns the configured deduplicator, or nil.
func (f *Facade) Deduplicator() *Deduplicator { return f.dedup }

// Retrier returns the configured retry executor, or nil.
func (f *Facade) Retrier() *Retry { return f.retry }

// Bulkhead returns the configured bulkhead, or nil.
func (f *Facade) Bulkhead() *Bulkhead { return f.bulkhead }

// Order returns the default policy order.
func (f *Facade) Order() []Policy {
	return append([]Policy(nil), f.order...)
}

// Do is a typed wrapper around Facade.Run.
func Do[T any](ctx context.Context, f *Facade, call Call, op func(context.Context) (T, error)) (T, error) {
	v, err := f.Run(ctx, call, func(ctx context.Context) (any, error) {
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
