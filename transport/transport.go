// Package transport routes outgoing HTTP requests through a
// resilience.Facade.
//
//	client := &http.Client{Transport: transport.New(facade)}
//
// Each request is rate limited, guarded by a circuit keyed by host,
// coalesced with identical in-flight GET and HEAD requests carrying the
// same credentials, and retried when its method is idempotent. Responses with a 5xx, 408 or 429 status
// become *StatusError so they count against the circuit and are retried.
//
// Response bodies are read in full inside the policies, so a facade
// timeout bounds the whole exchange and never truncates a body the caller
// has not read yet. The transport is not suited to streaming responses.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jonwraymond/relia/resilience"
)

const maxErrorBody = 4 << 10

// Transport is an http.RoundTripper that applies a Facade to every
// request.
type Transport struct {
	base     http.RoundTripper
	facade   *resilience.Facade
	service  func(*http.Request) string
	dedupKey func(*http.Request) string
	limiter  string
	cost     int
	now      func() time.Time
}

var _ http.RoundTripper = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the RoundTripper that performs requests.
// Default: http.DefaultTransport
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) {
		if rt != nil {
			t.base = rt
		}
	}
}

// WithServiceFunc sets how a request maps to a circuit key.
// Default: the request host.
func WithServiceFunc(fn func(*http.Request) string) Option {
	return func(t *Transport) {
		if fn != nil {
			t.service = fn
		}
	}
}

// WithDedupKeyFunc sets how a GET or HEAD request maps to a dedup key.
// Returning "" disables deduplication for that request.
// Default: KeyWithHeaders("Authorization", "Cookie"), so callers with
// different credentials never share a response.
func WithDedupKeyFunc(fn func(*http.Request) string) Option {
	return func(t *Transport) {
		if fn != nil {
			t.dedupKey = fn
		}
	}
}

// WithLimiter selects the rate limit domain and the token cost per request.
func WithLimiter(name string, cost int) Option {
	return func(t *Transport) {
		t.limiter = name
		t.cost = cost
	}
}

// New creates a Transport over f. It panics if f is nil.
func New(f *resilience.Facade, opts ...Option) *Transport {
	if f == nil {
		panic(ErrNilFacade)
	}
	t := &Transport{
		base:     http.DefaultTransport,
		facade:   f,
		service:  func(r *http.Request) string { return r.URL.Host },
		dedupKey: KeyWithHeaders("Authorization", "Cookie"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	call := resilience.Call{
		Limiter: t.limiter,
		Cost:    t.cost,
		Service: t.service(req),
		Retry:   isIdempotent(req.Method) && isReplayable(req),
	}
	if (req.Method == http.MethodGet || req.Method == http.MethodHead) && !hasBody(req) {
		call.DedupKey = t.dedupKey(req)
	}

	attempt := 0
	v, err := t.facade.Run(req.Context(), call, func(ctx context.Context) (any, error) {
		attempt++
		out, err := prepare(ctx, req, attempt)
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		return t.send(out)
	})
	if err != nil {
		return nil, err
	}

	resp, ok := v.(*bufferedResponse)
	if !ok {
		return nil, fmt.Errorf("transport: unexpected result %T", v)
	}
	return resp.clone(req), nil
}

// prepare returns the request for one attempt. Later attempts rewind the
// body through GetBody.
func prepare(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	out := req.Clone(ctx)
	if attempt > 1 && req.GetBody != nil && hasBody(req) {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return out, nil
}

func (t *Transport) send(req *http.Request) (any, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if IsFailureStatus(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			Code:       resp.StatusCode,
			Status:     resp.Status,
			Body:       body,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After"), t.now()),
		}
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	return &bufferedResponse{resp: resp, body: body}, nil
}

// bufferedResponse lets every caller sharing a deduplicated request read
// its own copy of the body.
type bufferedResponse struct {
	resp *http.Response
	body []byte
}

func (b *bufferedResponse) clone(req *http.Request) *http.Response {
	resp := *b.resp
	resp.Header = b.resp.Header.Clone()
	resp.Trailer = b.resp.Trailer.Clone()
	resp.Body = io.NopCloser(bytes.NewReader(b.body))
	if req.Method != http.MethodHead {
		resp.ContentLength = int64(len(b.body))
		resp.TransferEncoding = nil
	}
	resp.Request = req
	return &resp
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace,
		http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func hasBody(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody
}

func isReplayable(req *http.Request) bool {
	return !hasBody(req) || req.GetBody != nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date. Invalid or past values yield zero.
func retryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
