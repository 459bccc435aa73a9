package resilience

import (
	"context"
	"sync/atomic"
	"time"
)

// EventKind identifies what happened inside a component.
type EventKind int

const (
	// EventRateLimited is emitted when a token bucket rejects a request.
	EventRateLimited EventKind = iota
	// EventCircuitRejected is emitted when an open circuit rejects a request.
	EventCircuitRejected
	// EventStateChange is emitted when a circuit changes state.
	EventStateChange
	// EventDedupExecuted is emitted when a caller becomes the leader for a key.
	EventDedupExecuted
	// EventDedupShared is emitted when a caller received a leader's result.
	EventDedupShared
	// EventRetry is emitted before sleeping ahead of another attempt.
	EventRetry
	// EventRetryExhausted is emitted when the last attempt failed.
	EventRetryExhausted
	// EventGaveUp is emitted when a non-retryable error stopped the loop.
	EventGaveUp
	// EventBulkheadRejected is emitted when the bulkhead had no free slot.
	EventBulkheadRejected
	// EventTimeout is emitted when an operation exceeded its timeout.
	EventTimeout
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventRateLimited:
		return "rate_limited"
	case EventCircuitRejected:
		return "circuit_rejected"
	case EventStateChange:
		return "state_change"
	case EventDedupExecuted:
		return "dedup_executed"
	case EventDedupShared:
		return "dedup_shared"
	case EventRetry:
		return "retry"
	case EventRetryExhausted:
		return "retry_exhausted"
	case EventGaveUp:
		return "gave_up"
	case EventBulkheadRejected:
		return "bulkhead_rejected"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event describes a single component decision.
type Event struct {
	Kind EventKind

	// Component is one of "ratelimit", "circuit", "dedup", "retry",
	// "bulkhead" or "timeout".
	Component string

	// Name is the component instance name (limiter domain, dedup group).
	Name string

	// Key is the circuit service or dedup key, when applicable.
	Key string

	// From and To are set for EventStateChange.
	From, To State

	// Attempt is the 1-based attempt that just failed, for retry events.
	Attempt int

	// Delay is the backoff about to be slept, for EventRetry.
	Delay time.Duration

	// Cost is the requested token count, for EventRateLimited.
	Cost int

	// Err is the error that triggered the event, if any.
	Err error
}

// Observer receives component events.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Observe is called synchronously on the caller's goroutine and
//   must return quickly.
// - Errors: implementations must not panic.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f(ctx, ev).
func (f ObserverFunc) Observe(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// MultiObserver fans events out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	list := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return multiObserver(list)
}

type multiObserver []Observer

func (m multiObserver) Observe(ctx context.Context, ev Event) {
	for _, o := range m {
		o.Observe(ctx, ev)
	}
}

type noopObserver struct{}

func (noopObserver) Observe(context.Context, Event) {}

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return noopObserver{}
	}
	return o
}

// Counters is an Observer that keeps plain counters for every event kind.
// The zero value is ready to use.
type Counters struct {
	rateLimited      atomic.Int64
	circuitRejected  atomic.Int64
	stateChanges     atomic.Int64
	circuitOpened    atomic.Int64
	dedupExecuted    atomic.Int64
	dedupShared      atomic.Int64
	retries          atomic.Int64
	retryExhausted   atomic.Int64
	gaveUp           atomic.Int64
	bulkheadRejected atomic.Int64
	timeouts         atomic.Int64
}

// Observe increments the counter matching ev.Kind.
func (c *Counters) Observe(_ context.Context, ev Event) {
	switch ev.Kind {
	case EventRateLimited:
		c.rateLimited.Add(1)
	case EventCircuitRejected:
		c.circuitRejected.Add(1)
	case EventStateChange:
		c.stateChanges.Add(1)
		if ev.To == StateOpen {
			c.circuitOpened.Add(1)
		}
	case EventDedupExecuted:
		c.dedupExecuted.Add(1)
	case EventDedupShared:
		c.dedupShared.Add(1)
	case EventRetry:
		c.retries.Add(1)
	case EventRetryExhausted:
		c.retryExhausted.Add(1)
	case EventGaveUp:
		c.gaveUp.Add(1)
	case EventBulkheadRejected:
		c.bulkheadRejected.Add(1)
	case EventTimeout:
		c.timeouts.Add(1)
	}
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		RateLimited:      c.rateLimited.Load(),
		CircuitRejected:  c.circuitRejected.Load(),
		StateChanges:     c.stateChanges.Load(),
		CircuitOpened:    c.circuitOpened.Load(),
		DedupExecuted:    c.dedupExecuted.Load(),
		DedupShared:      c.dedupShared.Load(),
		Retries:          c.retries.Load(),
		RetryExhausted:   c.retryExhausted.Load(),
		GaveUp:           c.gaveUp.Load(),
		BulkheadRejected: c.bulkheadRejected.Load(),
		Timeouts:         c.timeouts.Load(),
	}
}

// CounterSnapshot contains counter values at a point in time.
type CounterSnapshot struct {
	RateLimited      int64
	CircuitRejected  int64
	StateChanges     int64
	CircuitOpened    int64
	DedupExecuted    int64
	DedupShared      int64
	Retries          int64
	RetryExhausted   int64
	GaveUp           int64
	BulkheadRejected int64
	Timeouts         int64
}
