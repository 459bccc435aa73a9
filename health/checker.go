package health

import (
	"context"
	"time"
)

// Status represents the health status of a component.
type Status int

const (
	// StatusHealthy indicates the component is functioning normally.
	StatusHealthy Status = iota
	// StatusDegraded indicates the component is shedding or failing fast for
	// some of its downstreams but still serves traffic.
	StatusDegraded
	// StatusUnhealthy indicates the component cannot serve traffic.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Worse returns the more severe of s and other.
func (s Status) Worse(other Status) Status {
	if other > s {
		return other
	}
	return s
}

// Result contains the outcome of a health check.
type Result struct {
	Status  Status
	Message string

	// Details carries checker specific data, such as per-circuit states.
	Details map[string]any

	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return newResult(StatusHealthy, message, nil)
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return newResult(StatusDegraded, message, nil)
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result {
	return newResult(StatusUnhealthy, message, err)
}

func newResult(status Status, message string, err error) Result {
	return Result{
		Status:    status,
		Message:   message,
		Error:     err,
		Timestamp: time.Now(),
	}
}

// WithDetails returns a copy of r carrying details.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration returns a copy of r carrying d.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker is the interface for health checks.
//
// Contract:
// - Concurrency: Check must be safe for concurrent use.
// - Context: Check should return promptly once ctx is done.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a new CheckerFunc.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the checker name.
func (f *CheckerFunc) Name() string {
	return f.name
}

// Check calls the wrapped function.
func (f *CheckerFunc) Check(ctx context.Context) Result {
	return f.fn(ctx)
}
