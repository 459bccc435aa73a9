package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// N concurrent callers with the same key share one execution.
func TestDeduplicator_Collapse(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{})
	ctx := context.Background()

	const callers = 20
	var calls atomic.Int64
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]any, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.Execute(ctx, "x", func(context.Context) (any, error) {
				calls.Add(1)
				<-release
				return "value", nil
			})
		}(i)
	}

	waitFor(t, func() bool { return d.InFlight() == 1 })
	// Give the remaining goroutines time to attach before completing.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("operation calls = %d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
		}
		if results[i] != "value" {
			t.Errorf("caller %d result = %v, want value", i, results[i])
		}
	}
}

func TestDeduplicator_SharedFailure(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{})
	ctx := context.Background()
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Execute(ctx, "k", func(context.Context) (any, error) {
				<-release
				return nil, errBackend
			})
		}(i)
	}

	waitFor(t, func() bool { return d.InFlight() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != errBackend {
			t.Errorf("caller %d error = %v, want %v", i, err, errBackend)
		}
	}
}

// A call issued after the previous one completed runs again.
func TestDeduplicator_NoCaching(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{})
	ctx := context.Background()

	v1, err := d.Execute(ctx, "x", func(context.Context) (any, error) { return 1, nil })
	if err != nil || v1 != 1 {
		t.Fatalf("first Execute() = %v, %v; want 1, nil", v1, err)
	}

	called := false
	v2, err := d.Execute(ctx, "x", func(context.Context) (any, error) {
		called = true
		return 2, nil
	})
	if err != nil || v2 != 2 {
		t.Fatalf("second Execute() = %v, %v; want 2, nil", v2, err)
	}
	if !called {
		t.Error("second operation was not invoked")
	}
	if d.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", d.InFlight())
	}
}

func TestDeduplicator_DistinctKeysRunConcurrently(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{})
	ctx := context.Background()
	release := make(chan struct{})
	var calls atomic.Int64

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _ = d.Execute(ctx, key, func(context.Context) (any, error) {
				calls.Add(1)
				<-release
				return key, nil
			})
		}(key)
	}

	waitFor(t, func() bool { return d.InFlight() == 3 })
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

// Cancelling one waiter neither cancels the operation nor affects others.
func TestDeduplicator_WaiterCancellation(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{})
	release := make(chan struct{})
	opCtxErr := make(chan error, 1)

	leaderDone := make(chan struct{})
	var leaderResult any
	var leaderErr error
	go func() {
		defer close(leaderDone)
		leaderResult, leaderErr = d.Execute(context.Background(), "k", func(ctx context.Context) (any, error) {
			<-release
			opCtxErr <- ctx.Err()
			return "done", nil
		})
	}()
	waitFor(t, func() bool { return d.InFlight() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, err := d.Execute(ctx, "k", func(context.Context) (any, error) {
			t.Error("waiter's operation must not run")
			return nil, nil
		})
		waiterDone <- err
	}()

	cancel()
	select {
	case err := <-waiterDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("waiter error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	close(release)
	<-leaderDone

	if leaderErr != nil || leaderResult != "done" {
		t.Errorf("leader = %v, %v; want done, nil", leaderResult, leaderErr)
	}
	if err := <-opCtxErr; err != nil {
		t.Errorf("operation ctx.Err() = %v, want nil", err)
	}
}

// The operation context is detached from the leader's cancellation.
func TestDeduplicator_LeaderCancellationDoesNotCancelOperation(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{})
	release := make(chan struct{})
	finished := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := d.Execute(ctx, "k", func(opCtx context.Context) (any, error) {
			<-release
			finished <- opCtx.Err()
			return "v", nil
		})
		leaderErr <- err
	}()
	waitFor(t, func() bool { return d.InFlight() == 1 })

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader error = %v, want context.Canceled", err)
	}

	waiter := make(chan any, 1)
	go func() {
		v, _ := d.Execute(context.Background(), "k", func(context.Context) (any, error) {
			return "second", nil
		})
		waiter <- v
	}()
	time.Sleep(20 * time.Millisecond)

	close(release)
	if err := <-finished; err != nil {
		t.Errorf("operation ctx.Err() = %v, want nil", err)
	}
	if v := <-waiter; v != "v" {
		t.Errorf("late waiter result = %v, want v", v)
	}
}

func TestDeduplicator_CancelledBeforeStart(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Execute(ctx, "k", func(context.Context) (any, error) {
		t.Error("operation must not run with a cancelled context")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestDeduplicator_Panic(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{})

	_, err := d.Execute(context.Background(), "boom", func(context.Context) (any, error) {
		panic("kaboom")
	})

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Execute() error = %v, want *PanicError", err)
	}
	if pe.Key != "boom" || pe.Value != "kaboom" {
		t.Errorf("PanicError = %+v", pe)
	}
	if d.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", d.InFlight())
	}
}

func TestDeduplicator_ObserverEvents(t *testing.T) {
	var counters Counters
	d := NewDeduplicator(DeduplicatorConfig{Observer: &counters})
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Execute(context.Background(), "k", func(context.Context) (any, error) {
				<-release
				return nil, nil
			})
		}()
	}
	waitFor(t, func() bool { return d.InFlight() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	snap := counters.Snapshot()
	if snap.DedupExecuted != 1 {
		t.Errorf("DedupExecuted = %d, want 1", snap.DedupExecuted)
	}
	if snap.DedupShared != 3 {
		t.Errorf("DedupShared = %d, want 3", snap.DedupShared)
	}
}

func TestDedupe_Typed(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{})

	n, err := Dedupe(context.Background(), d, "k", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || n != 42 {
		t.Errorf("Dedupe() = %d, %v; want 42, nil", n, err)
	}

	_, err = Dedupe(context.Background(), d, "k", func(context.Context) (int, error) {
		return 0, errBackend
	})
	if err != errBackend {
		t.Errorf("Dedupe() error = %v, want %v", err, errBackend)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
