package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is matched by every *CircuitOpenError.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded is matched by every *RetryExhaustedError.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded is returned when the token bucket rejects a request.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrUnknownLimiter is returned by the Facade when a call names a
	// rate-limit domain that was never registered.
	ErrUnknownLimiter = errors.New("resilience: unknown rate limiter")
)

// CircuitOpenError reports that the circuit for Service rejected a request
// without invoking the operation.
type CircuitOpenError struct {
	Service string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("resilience: circuit breaker is open for %q", e.Service)
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// RetryExhaustedError is returned when every attempt failed with a
// retryable error. Last is the error of the final attempt.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("resilience: max retries exceeded after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last observed error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Is reports whether target is ErrMaxRetriesExceeded.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

// PanicError carries a recovered panic from a deduplicated operation to
// every attached caller.
type PanicError struct {
	Key   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("resilience: operation for key %q panicked: %v", e.Key, e.Value)
}
