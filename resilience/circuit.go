package resilience

import (
	"context"
	"sort"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is letting trial requests through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker. The same settings
// apply to every service key.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// a closed circuit.
	// Default: 5
	FailureThreshold int

	// ResetTimeout is how long an open circuit rejects requests before it
	// admits trial requests.
	// Default: 60 seconds
	ResetTimeout time.Duration

	// HalfOpenSuccessThreshold is the number of trial successes that closes
	// a half-open circuit.
	// Default: 3
	HalfOpenSuccessThreshold int

	// OnStateChange is called after a circuit changes state, outside the
	// circuit lock.
	OnStateChange func(service string, from, to State)

	// IsFailure determines if an error should count as a failure. A
	// non-nil error it rejects leaves the counters unchanged.
	// Default: non-nil errors other than context.Canceled.
	IsFailure func(err error) bool

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time

	// Observer receives EventCircuitRejected and EventStateChange events.
	Observer Observer
}

// CircuitBreaker keeps one independent circuit per service key. Circuits
// are created lazily in the closed state and live as long as the breaker.
type CircuitBreaker struct {
	config   CircuitBreakerConfig
	observer Observer

	mu       sync.RWMutex
	circuits map[string]*circuit
}

// circuit holds the state machine for a single service.
type circuit struct {
	mu                sync.Mutex
	state             State
	failures          int
	halfOpenSuccesses int
	openUntil         time.Time
	lastFailure       time.Time
	generation        uint64
}

type transition struct {
	from, to State
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenSuccessThreshold <= 0 {
		config.HalfOpenSuccessThreshold = 3
	}
	if config.IsFailure == nil {
		config.IsFailure = defaultIsFailure
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config:   config,
		observer: observerOrNoop(config.Observer),
		circuits: make(map[string]*circuit),
	}
}

// Execute runs the operation through the circuit for service. It returns a
// *CircuitOpenError without invoking op when the circuit is open, and op's
// own error otherwise.
func (cb *CircuitBreaker) Execute(ctx context.Context, service string, op func(context.Context) error) error {
	c := cb.circuit(service)

	gen, err := cb.beforeRequest(ctx, service, c)
	if err != nil {
		return err
	}

	err = op(ctx)
	cb.afterRequest(ctx, service, c, gen, err)
	return err
}

// State returns the current state of the circuit for service.
func (cb *CircuitBreaker) State(service string) State {
	return cb.Snapshot(service).State
}

// Snapshot returns the current counters of the circuit for service.
func (cb *CircuitBreaker) Snapshot(service string) CircuitSnapshot {
	c := cb.circuit(service)

	c.mu.Lock()
	t, changed := cb.currentStateLocked(c)
	snap := c.snapshotLocked(service)
	c.mu.Unlock()

	if changed {
		cb.notify(context.Background(), service, t)
	}
	return snap
}

// Snapshots returns a snapshot of every known circuit, sorted by service.
func (cb *CircuitBreaker) Snapshots() []CircuitSnapshot {
	cb.mu.RLock()
	services := make([]string, 0, len(cb.circuits))
	for service := range cb.circuits {
		services = append(services, service)
	}
	cb.mu.RUnlock()

	sort.Strings(services)
	snaps := make([]CircuitSnapshot, 0, len(services))
	for _, service := range services {
		snaps = append(snaps, cb.Snapshot(service))
	}
	return snaps
}

// Reset forces the circuit for service back to the closed state.
func (cb *CircuitBreaker) Reset(service string) {
	c := cb.circuit(service)

	c.mu.Lock()
	from := c.state
	c.failures = 0
	c.halfOpenSuccesses = 0
	changed := from != StateClosed
	if changed {
		c.setStateLocked(StateClosed)
	}
	c.mu.Unlock()

	if changed {
		cb.notify(context.Background(), service, transition{from: from, to: StateClosed})
	}
}

// ResetAll forces every known circuit back to the closed state.
func (cb *CircuitBreaker) ResetAll() {
	cb.mu.RLock()
	services := make([]string, 0, len(cb.circuits))
	for service := range cb.circuits {
		services = append(services, service)
	}
	cb.mu.RUnlock()

	for _, service := range services {
		cb.Reset(service)
	}
}

func (cb *CircuitBreaker) circuit(service string) *circuit {
	cb.mu.RLock()
	c, ok := cb.circuits[service]
	cb.mu.RUnlock()
	if ok {
		return c
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok = cb.circuits[service]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	cb.circuits[service] = c
	return c
}

func (cb *CircuitBreaker) beforeRequest(ctx context.Context, service string, c *circuit) (uint64, error) {
	c.mu.Lock()
	t, changed := cb.currentStateLocked(c)
	state, gen := c.state, c.generation
	c.mu.Unlock()

	if changed {
		cb.notify(ctx, service, t)
	}

	if state == StateOpen {
		cb.observer.Observe(ctx, Event{
			Kind:      EventCircuitRejected,
			Component: "circuit",
			Key:       service,
		})
		return 0, &CircuitOpenError{Service: service}
	}
	return gen, nil
}

// defaultIsFailure ignores callers that gave up. Their cancellation says
// nothing about the downstream.
func defaultIsFailure(err error) bool {
	return err != nil && Classify(err) != ClassCanceled
}

func (cb *CircuitBreaker) afterRequest(ctx context.Context, service string, c *circuit, gen uint64, err error) {
	isFailure := err != nil && cb.config.IsFailure(err)
	if err != nil && !isFailure {
		return
	}

	c.mu.Lock()
	if t, changed := cb.currentStateLocked(c); changed {
		c.mu.Unlock()
		cb.notify(ctx, service, t)
		return
	}
	// Outcomes admitted before the last transition belong to a state that
	// no longer exists.
	if gen != c.generation {
		c.mu.Unlock()
		return
	}

	from := c.state
	now := cb.config.Now()

	switch c.state {
	case StateClosed:
		if isFailure {
			c.failures++
			c.lastFailure = now
			if c.failures >= cb.config.FailureThreshold {
				c.openLocked(now, cb.config.ResetTimeout)
			}
		} else {
			c.failures = 0
		}

	case StateHalfOpen:
		if isFailure {
			c.lastFailure = now
			c.openLocked(now, cb.config.ResetTimeout)
		} else {
			c.halfOpenSuccesses++
			if c.halfOpenSuccesses >= cb.config.HalfOpenSuccessThreshold {
				c.setStateLocked(StateClosed)
				c.failures = 0
			}
		}
	}
	to := c.state
	c.mu.Unlock()

	if from != to {
		cb.notify(ctx, service, transition{from: from, to: to})
	}
}

// currentStateLocked moves an expired open circuit to half-open. It
// reports the transition so the caller can publish it after unlocking.
func (cb *CircuitBreaker) currentStateLocked(c *circuit) (transition, bool) {
	if c.state == StateOpen && !cb.config.Now().Before(c.openUntil) {
		c.setStateLocked(StateHalfOpen)
		return transition{from: StateOpen, to: StateHalfOpen}, true
	}
	return transition{}, false
}

func (cb *CircuitBreaker) notify(ctx context.Context, service string, t transition) {
	cb.observer.Observe(ctx, Event{
		Kind:      EventStateChange,
		Component: "circuit",
		Key:       service,
		From:      t.from,
		To:        t.to,
	})
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(service, t.from, t.to)
	}
}

func (c *circuit) openLocked(now time.Time, timeout time.Duration) {
	c.setStateLocked(StateOpen)
	c.openUntil = now.Add(timeout)
}

func (c *circuit) setStateLocked(state State) {
	c.state = state
	c.generation++
	if state == StateHalfOpen {
		c.halfOpenSuccesses = 0
	}
	if state == StateClosed {
		c.openUntil = time.Time{}
	}
}

func (c *circuit) snapshotLocked(service string) CircuitSnapshot {
	return CircuitSnapshot{
		Service:           service,
		State:             c.state,
		Failures:          c.failures,
		HalfOpenSuccesses: c.halfOpenSuccesses,
		OpenUntil:         c.openUntil,
		LastFailure:       c.lastFailure,
	}
}

// CircuitSnapshot contains the state of one circuit.
type CircuitSnapshot struct {
	Service           string
	State             State
	Failures          int
	HalfOpenSuccesses int
	OpenUntil         time.Time
	LastFailure       time.Time
}
