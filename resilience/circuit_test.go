package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

func failOp(context.Context) error { return errBackend }
func okOp(context.Context) error   { return nil }

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State("svc") != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State("svc"))
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.ResetTimeout != 60*time.Second {
		t.Errorf("ResetTimeout = %v, want 60s", cb.config.ResetTimeout)
	}
	if cb.config.HalfOpenSuccessThreshold != 3 {
		t.Errorf("HalfOpenSuccessThreshold = %d, want 3", cb.config.HalfOpenSuccessThreshold)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

// Full closed, open, half-open, closed cycle with 5/60s/3.
func TestCircuitBreaker_Cycle(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:         5,
		ResetTimeout:             60 * time.Second,
		HalfOpenSuccessThreshold: 3,
		Now:                      clock.Now,
	})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := cb.Execute(ctx, "api", failOp); err != errBackend {
			t.Fatalf("Execute() error = %v, want %v", err, errBackend)
		}
		if cb.State("api") != StateClosed {
			t.Fatalf("After %d failures, state = %v, want closed", i+1, cb.State("api"))
		}
	}

	_ = cb.Execute(ctx, "api", failOp)
	if cb.State("api") != StateOpen {
		t.Fatalf("After 5 failures, state = %v, want open", cb.State("api"))
	}

	clock.Advance(59 * time.Second)
	called := false
	err := cb.Execute(ctx, "api", func(context.Context) error {
		called = true
		return nil
	})
	var coe *CircuitOpenError
	if !errors.As(err, &coe) || coe.Service != "api" {
		t.Fatalf("Execute() before timeout = %v, want CircuitOpenError(api)", err)
	}
	if called {
		t.Fatal("operation invoked while circuit open")
	}

	clock.Advance(time.Second)
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, "api", okOp); err != nil {
			t.Fatalf("trial %d error = %v", i+1, err)
		}
		if cb.State("api") != StateHalfOpen {
			t.Fatalf("After %d trial successes, state = %v, want half-open", i+1, cb.State("api"))
		}
	}

	if err := cb.Execute(ctx, "api", okOp); err != nil {
		t.Fatalf("third trial error = %v", err)
	}
	if cb.State("api") != StateClosed {
		t.Fatalf("After 3 trial successes, state = %v, want closed", cb.State("api"))
	}
	if snap := cb.Snapshot("api"); snap.Failures != 0 {
		t.Errorf("Failures after close = %d, want 0", snap.Failures)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:         2,
		ResetTimeout:             time.Minute,
		HalfOpenSuccessThreshold: 3,
		Now:                      clock.Now,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, "db", failOp)
	_ = cb.Execute(ctx, "db", failOp)
	clock.Advance(time.Minute)

	_ = cb.Execute(ctx, "db", okOp)
	_ = cb.Execute(ctx, "db", okOp)
	if cb.State("db") != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State("db"))
	}

	_ = cb.Execute(ctx, "db", failOp)
	if cb.State("db") != StateOpen {
		t.Fatalf("After half-open failure, state = %v, want open", cb.State("db"))
	}

	// The reopened circuit waits a fresh timeout.
	clock.Advance(59 * time.Second)
	if err := cb.Execute(ctx, "db", okOp); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() = %v, want ErrCircuitOpen", err)
	}
	clock.Advance(time.Second)
	if err := cb.Execute(ctx, "db", okOp); err != nil {
		t.Errorf("Execute() after fresh timeout = %v, want nil", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	ctx := context.Background()

	_ = cb.Execute(ctx, "svc", failOp)
	_ = cb.Execute(ctx, "svc", failOp)
	_ = cb.Execute(ctx, "svc", okOp)
	_ = cb.Execute(ctx, "svc", failOp)
	_ = cb.Execute(ctx, "svc", failOp)

	if cb.State("svc") != StateClosed {
		t.Errorf("state = %v, want closed", cb.State("svc"))
	}
	if got := cb.Snapshot("svc").Failures; got != 2 {
		t.Errorf("Failures = %d, want 2", got)
	}
}

func TestCircuitBreaker_KeysAreIndependent(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, "a", failOp)

	if cb.State("a") != StateOpen {
		t.Errorf("state(a) = %v, want open", cb.State("a"))
	}
	if err := cb.Execute(ctx, "b", okOp); err != nil {
		t.Errorf("Execute(b) = %v, want nil", err)
	}
}

func TestCircuitBreaker_IsFailure(t *testing.T) {
	notFound := errors.New("not found")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, notFound)
		},
	})

	err := cb.Execute(context.Background(), "svc", func(context.Context) error {
		return notFound
	})
	if err != notFound {
		t.Errorf("Execute() = %v, want %v", err, notFound)
	}
	if cb.State("svc") != StateClosed {
		t.Errorf("state = %v, want closed", cb.State("svc"))
	}
}

func TestCircuitBreaker_IgnoredErrorKeepsFailures(t *testing.T) {
	notFound := errors.New("not found")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, notFound)
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, "svc", failOp)
	_ = cb.Execute(ctx, "svc", failOp)
	_ = cb.Execute(ctx, "svc", func(context.Context) error { return notFound })

	if got := cb.Snapshot("svc").Failures; got != 2 {
		t.Errorf("Failures = %d, want 2", got)
	}
	_ = cb.Execute(ctx, "svc", failOp)
	if cb.State("svc") != StateOpen {
		t.Errorf("state = %v, want open", cb.State("svc"))
	}
}

func TestCircuitBreaker_CanceledIsNeutral(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:         2,
		ResetTimeout:             time.Second,
		HalfOpenSuccessThreshold: 1,
		Now:                      clock.Now,
	})
	ctx := context.Background()
	canceledOp := func(context.Context) error { return context.Canceled }

	_ = cb.Execute(ctx, "svc", failOp)
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, "svc", canceledOp); !errors.Is(err, context.Canceled) {
			t.Fatalf("Execute() = %v, want context.Canceled", err)
		}
	}
	if snap := cb.Snapshot("svc"); snap.State != StateClosed || snap.Failures != 1 {
		t.Errorf("snapshot = %+v, want closed with 1 failure", snap)
	}

	_ = cb.Execute(ctx, "svc", failOp)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, "svc", canceledOp)
	if cb.State("svc") != StateHalfOpen {
		t.Errorf("state after canceled half-open call = %v, want half-open", cb.State("svc"))
	}
	_ = cb.Execute(ctx, "svc", okOp)
	if cb.State("svc") != StateClosed {
		t.Errorf("state = %v, want closed", cb.State("svc"))
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var changes []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:         1,
		ResetTimeout:             time.Second,
		HalfOpenSuccessThreshold: 1,
		Now:                      clock.Now,
	})
	cb.config.OnStateChange = func(service string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, service+":"+from.String()+"->"+to.String())
		// Reading state from the callback must not deadlock.
		_ = cb.State(service)
	}
	ctx := context.Background()

	_ = cb.Execute(ctx, "svc", failOp)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, "svc", okOp)

	want := []string{"svc:closed->open", "svc:open->half-open", "svc:half-open->closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %q, want %q", i, changes[i], want[i])
		}
	}
}

func TestCircuitBreaker_ObserverEvents(t *testing.T) {
	var counters Counters
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Observer:         &counters,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, "svc", failOp)
	_ = cb.Execute(ctx, "svc", okOp)
	_ = cb.Execute(ctx, "svc", okOp)

	snap := counters.Snapshot()
	if snap.CircuitOpened != 1 {
		t.Errorf("CircuitOpened = %d, want 1", snap.CircuitOpened)
	}
	if snap.CircuitRejected != 2 {
		t.Errorf("CircuitRejected = %d, want 2", snap.CircuitRejected)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, "svc", failOp)
	if cb.State("svc") != StateOpen {
		t.Fatalf("state = %v, want open", cb.State("svc"))
	}

	cb.Reset("svc")

	if cb.State("svc") != StateClosed {
		t.Errorf("After reset, state = %v, want closed", cb.State("svc"))
	}
	if err := cb.Execute(ctx, "svc", okOp); err != nil {
		t.Errorf("Execute() after reset = %v, want nil", err)
	}
}

func TestCircuitBreaker_ResetAll(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, "a", failOp)
	_ = cb.Execute(ctx, "b", failOp)

	cb.ResetAll()

	for _, snap := range cb.Snapshots() {
		if snap.State != StateClosed {
			t.Errorf("state(%s) = %v, want closed", snap.Service, snap.State)
		}
	}
}

func TestCircuitBreaker_Snapshots(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, "zeta", okOp)
	_ = cb.Execute(ctx, "alpha", failOp)

	snaps := cb.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("len(Snapshots) = %d, want 2", len(snaps))
	}
	if snaps[0].Service != "alpha" || snaps[1].Service != "zeta" {
		t.Errorf("order = %s, %s; want alpha, zeta", snaps[0].Service, snaps[1].Service)
	}
	if snaps[0].State != StateOpen || snaps[0].OpenUntil.IsZero() {
		t.Errorf("alpha = %+v, want open with OpenUntil set", snaps[0])
	}
}

// Callers racing past an expired open circuit produce exactly one
// open -> half-open transition.
func TestCircuitBreaker_ConcurrentHalfOpenTransition(t *testing.T) {
	clock := newFakeClock()
	var transitions atomic.Int64
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:         1,
		ResetTimeout:             time.Second,
		HalfOpenSuccessThreshold: 1000,
		Now:                      clock.Now,
		OnStateChange: func(_ string, from, to State) {
			if from == StateOpen && to == StateHalfOpen {
				transitions.Add(1)
			}
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, "svc", failOp)
	clock.Advance(time.Second)

	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cb.Execute(ctx, "svc", okOp); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := transitions.Load(); got != 1 {
		t.Errorf("open->half-open transitions = %d, want 1", got)
	}
	if got := admitted.Load(); got != 50 {
		t.Errorf("admitted = %d, want 50 (half-open does not throttle)", got)
	}
	if got := cb.Snapshot("svc").HalfOpenSuccesses; got != 50 {
		t.Errorf("HalfOpenSuccesses = %d, want 50", got)
	}
}

// An outcome admitted while closed does not count against a circuit that
// has since opened and moved to half-open.
func TestCircuitBreaker_StaleOutcomeIgnored(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:         1,
		ResetTimeout:             time.Second,
		HalfOpenSuccessThreshold: 1,
		Now:                      clock.Now,
	})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cb.Execute(ctx, "svc", func(context.Context) error {
			close(started)
			<-release
			return errBackend
		})
	}()
	<-started

	_ = cb.Execute(ctx, "svc", failOp)
	clock.Advance(time.Second)
	if cb.State("svc") != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State("svc"))
	}

	close(release)
	<-done

	if cb.State("svc") != StateHalfOpen {
		t.Errorf("state after stale failure = %v, want half-open", cb.State("svc"))
	}
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 100,
		ResetTimeout:     time.Second,
	})

	var wg sync.WaitGroup
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := okOp
			if i%2 == 0 {
				op = failOp
			}
			_ = cb.Execute(ctx, "svc", op)
		}(i)
	}

	wg.Wait()

	state := cb.State("svc")
	if state != StateClosed && state != StateOpen {
		t.Errorf("Unexpected state: %v", state)
	}
}
