package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func healthyChecker(name string) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result { return Healthy("ok") })
}

func TestNewAggregator(t *testing.T) {
	if agg := NewAggregator(); agg.config.Timeout != 10*time.Second {
		t.Errorf("default timeout = %v, want 10s", agg.config.Timeout)
	}
	agg := NewAggregator(AggregatorConfig{Timeout: 5 * time.Second, MaxParallel: 2})
	if agg.config.Timeout != 5*time.Second || agg.config.MaxParallel != 2 {
		t.Errorf("config = %+v", agg.config)
	}
}

func TestAggregator_RegisterKeepsOrder(t *testing.T) {
	agg := NewAggregator()
	agg.Register("circuits", healthyChecker("circuits"))
	agg.Register("limiters", healthyChecker("limiters"))
	agg.Register("circuits", NewCheckerFunc("circuits", func(ctx context.Context) Result {
		return Degraded("replaced")
	}))

	names := agg.CheckerNames()
	if len(names) != 2 || names[0] != "circuits" || names[1] != "limiters" {
		t.Errorf("CheckerNames() = %v, want [circuits limiters]", names)
	}
	r, _ := agg.Check(context.Background(), "circuits")
	if r.Message != "replaced" {
		t.Errorf("Message = %q, want replaced", r.Message)
	}
}

func TestAggregator_Unregister(t *testing.T) {
	agg := NewAggregator()
	agg.Register("a", healthyChecker("a"))
	agg.Register("b", healthyChecker("b"))
	agg.Unregister("a")
	agg.Unregister("missing")

	if names := agg.CheckerNames(); len(names) != 1 || names[0] != "b" {
		t.Errorf("CheckerNames() = %v, want [b]", names)
	}
}

func TestAggregator_CheckNotFound(t *testing.T) {
	_, err := NewAggregator().Check(context.Background(), "nonexistent")
	if !errors.Is(err, ErrCheckerNotFound) {
		t.Errorf("Check() error = %v, want ErrCheckerNotFound", err)
	}
}

func TestAggregator_CheckAll(t *testing.T) {
	agg := NewAggregator()
	agg.Register("healthy", healthyChecker("healthy"))
	agg.Register("degraded", NewCheckerFunc("degraded", func(ctx context.Context) Result {
		return Degraded("slow")
	}))

	results := agg.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results["degraded"].Status != StatusDegraded {
		t.Errorf("degraded status = %v", results["degraded"].Status)
	}
	if results["healthy"].Duration <= 0 && results["healthy"].Timestamp.IsZero() {
		t.Error("result carries neither duration nor timestamp")
	}
}

func TestAggregator_CheckAllEmpty(t *testing.T) {
	if results := NewAggregator().CheckAll(context.Background()); len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestAggregator_MaxParallel(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{MaxParallel: 1})

	var active, peak atomic.Int32
	for _, name := range []string{"a", "b", "c", "d"} {
		agg.Register(name, NewCheckerFunc(name, func(ctx context.Context) Result {
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return Healthy("ok")
		}))
	}

	if results := agg.CheckAll(context.Background()); len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}

func TestAggregator_CheckAllTimeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 50 * time.Millisecond})
	agg.Register("slow", NewCheckerFunc("slow", func(ctx context.Context) Result {
		time.Sleep(200 * time.Millisecond)
		return Healthy("ok")
	}))

	r := agg.CheckAll(context.Background())["slow"]
	if r.Status != StatusUnhealthy {
		t.Errorf("slow status = %v, want unhealthy", r.Status)
	}
	if !errors.Is(r.Error, ErrCheckTimeout) {
		t.Errorf("slow error = %v, want ErrCheckTimeout", r.Error)
	}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]Result
		want    Status
	}{
		{"empty", map[string]Result{}, StatusHealthy},
		{"all healthy", map[string]Result{"a": Healthy("ok"), "b": Healthy("ok")}, StatusHealthy},
		{"one degraded", map[string]Result{"a": Healthy("ok"), "b": Degraded("open")}, StatusDegraded},
		{"unhealthy wins", map[string]Result{"a": Degraded("open"), "b": Unhealthy("down", nil)}, StatusUnhealthy},
	}

	agg := NewAggregator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overall(tt.results); got != tt.want {
				t.Errorf("Overall() = %v, want %v", got, tt.want)
			}
			if got := agg.OverallStatus(tt.results); got != tt.want {
				t.Errorf("OverallStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregator_Checker(t *testing.T) {
	agg := NewAggregator()
	agg.Register("down", NewCheckerFunc("down", func(ctx context.Context) Result {
		return Unhealthy("down", nil)
	}))

	checker := agg.Checker()
	if checker.Name() != "aggregate" {
		t.Errorf("Name() = %v, want aggregate", checker.Name())
	}
	r := checker.Check(context.Background())
	if r.Status != StatusUnhealthy || r.Message != "some checks failed" {
		t.Errorf("Check() = %v %q", r.Status, r.Message)
	}
	if _, ok := r.Details["down"]; !ok {
		t.Error("Details missing the down check")
	}
}
