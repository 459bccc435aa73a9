package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrNilFacade indicates New was called without a facade.
var ErrNilFacade = errors.New("transport: nil facade")

// StatusError reports a response whose status marks the downstream as
// failing: any 5xx, 408 or 429. The response body has been consumed and
// closed; up to maxErrorBody bytes of it are kept in Body.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Status string
	Body   []byte

	// RetryAfter is the server's Retry-After hint, or zero.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s %s: %s", e.Method, e.URL, e.Status)
}

// StatusCode returns the HTTP status code, which drives retry
// classification.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Unwrap exposes the Retry-After hint to the retry executor.
func (e *StatusError) Unwrap() error {
	if e.RetryAfter <= 0 {
		return nil
	}
	return &backoff.RetryAfterError{Duration: e.RetryAfter}
}

// IsFailureStatus reports whether code counts as a downstream failure.
func IsFailureStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
