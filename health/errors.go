package health

import "errors"

var (
	// ErrCheckFailed indicates a health check failed.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout indicates a health check timed out.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates a checker was not found.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrCircuitNotFound indicates no circuit exists for the requested service.
	ErrCircuitNotFound = errors.New("health: circuit not found")

	// ErrNoCircuitBreaker indicates the facade has no circuit breaker to
	// inspect or reset.
	ErrNoCircuitBreaker = errors.New("health: no circuit breaker configured")
)
