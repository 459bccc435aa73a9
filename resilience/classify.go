package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/cenkalti/backoff/v5"
)

// ErrorClass groups errors by how the retry loop should treat them.
type ErrorClass int

const (
	// ClassNone is the class of a nil error.
	ClassNone ErrorClass = iota
	// ClassTransient covers network and server-side failures that are
	// expected to clear on their own.
	ClassTransient
	// ClassUnknown covers errors the classifier does not recognize. They are
	// retried.
	ClassUnknown
	// ClassPermanent covers client-side errors that will fail the same way
	// on every attempt.
	ClassPermanent
	// ClassRejected covers admission rejections from this package.
	ClassRejected
	// ClassCanceled covers caller cancellation.
	ClassCanceled
)

// String returns the string representation of the class.
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassUnknown:
		return "unknown"
	case ClassPermanent:
		return "permanent"
	case ClassRejected:
		return "rejected"
	case ClassCanceled:
		return "canceled"
	default:
		return "invalid"
	}
}

// Retryable reports whether errors of this class should be retried.
func (c ErrorClass) Retryable() bool {
	return c == ClassTransient || c == ClassUnknown
}

// StatusCoder is implemented by errors that carry an HTTP-style status code.
type StatusCoder interface {
	StatusCode() int
}

// Classifier decides whether a failed attempt should be retried.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: ShouldRetry is never called with a nil error.
type Classifier interface {
	ShouldRetry(err error) bool
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(err error) bool

// ShouldRetry calls f(err).
func (f ClassifierFunc) ShouldRetry(err error) bool {
	return f(err)
}

// DefaultClassifier retries transient and unrecognized errors.
var DefaultClassifier Classifier = ClassifierFunc(ShouldRetry)

// ShouldRetry reports whether err belongs to a retryable class.
func ShouldRetry(err error) bool {
	return Classify(err).Retryable()
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Classify assigns err to an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}

	switch {
	case errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrBulkheadFull):
		return ClassRejected
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrTimeout):
		return ClassTransient
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		if r.Retryable() {
			return ClassTransient
		}
		return ClassPermanent
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.StatusCode())
	}

	if isNetworkTransient(err) {
		return ClassTransient
	}
	return ClassUnknown
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return ClassTransient
	case code >= 500:
		return ClassTransient
	case code >= 400:
		return ClassPermanent
	default:
		return ClassUnknown
	}
}

func isNetworkTransient(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout)
}
