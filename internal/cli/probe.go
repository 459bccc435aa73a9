package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/relia/observe"
	"github.com/jonwraymond/relia/resilience"
	"github.com/jonwraymond/relia/transport"
)

// RunIDHeader carries the probe run ID on every request.
const RunIDHeader = "X-Relia-Run-Id"

const outcomeOK = "ok"

type probeOptions struct {
	count       int
	concurrency int
	limiter     string
	cost        int
	timeout     time.Duration
	headers     []string
}

type probeResult struct {
	Seq      int
	Status   int
	Outcome  string
	Duration time.Duration
	Err      error
}

func newProbeCommand(opts *rootOptions) *cobra.Command {
	po := probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe URL",
		Short: "Send GET requests through the selected profile",
		Long: `Send --count GET requests to URL through the selected profile, at most
--concurrency at a time, then print the outcome of every request, the
resilience event counters and the circuit states.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if po.count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			if po.concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}

			header, err := parseHeaders(po.headers)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := opts.setup(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(context.WithoutCancel(ctx)) }()

			mw, err := observe.MiddlewareFromObserver(rt.observer)
			if err != nil {
				return err
			}
			topts := []transport.Option{transport.WithLimiter(po.limiter, po.cost)}
			if len(header) > 0 {
				names := make([]string, 0, len(header))
				for name := range header {
					names = append(names, name)
				}
				topts = append(topts, transport.WithDedupKeyFunc(transport.KeyWithHeaders(names...)))
			}
			client := &http.Client{
				Transport: transport.New(rt.facade, topts...),
				Timeout:   po.timeout,
			}

			runID := uuid.NewString()
			rt.observer.Logger().Info(ctx, "probe started",
				observe.Field{Key: "run_id", Value: runID},
				observe.Field{Key: "target", Value: args[0]},
				observe.Field{Key: "count", Value: po.count},
				observe.Field{Key: "profile", Value: rt.profile},
			)

			results := runProbe(ctx, mw, client, args[0], runID, header, po)

			out := cmd.OutOrStdout()
			renderProbe(out, runID, args[0], results)
			renderCounters(out, rt.counters.Snapshot())
			if cb := rt.facade.CircuitBreaker(); cb != nil {
				renderCircuits(out, cb.Snapshots())
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&po.count, "count", "n", 10, "number of requests")
	f.IntVarP(&po.concurrency, "concurrency", "c", 1, "maximum requests in flight")
	f.StringVar(&po.limiter, "limiter", "", "rate limit domain (default: the \"default\" limiter)")
	f.IntVar(&po.cost, "cost", 1, "tokens per request")
	f.DurationVar(&po.timeout, "timeout", 30*time.Second, "per-request client timeout")
	f.StringArrayVarP(&po.headers, "header", "H", nil, `request header "Name: value"; repeatable`)
	return cmd
}

func runProbe(ctx context.Context, mw *observe.Middleware, client *http.Client, target, runID string, header http.Header, po probeOptions) []probeResult {
	results := make([]probeResult, po.count)
	meta := observe.OpMeta{Name: "probe", Service: hostOf(target), Limiter: po.limiter}

	var g errgroup.Group
	g.SetLimit(po.concurrency)
	for i := range po.count {
		g.Go(func() error {
			results[i] = probeOnce(ctx, mw, meta, client, target, runID, header, i+1)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func probeOnce(ctx context.Context, mw *observe.Middleware, meta observe.OpMeta, client *http.Client, target, runID string, header http.Header, seq int) probeResult {
	res := probeResult{Seq: seq}
	start := time.Now()

	send := mw.Wrap(func(ctx context.Context, meta observe.OpMeta) (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		for name, values := range header {
			req.Header[name] = values
		}
		req.Header.Set(RunIDHeader, runID)

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	})

	v, err := send(ctx, meta)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		res.Outcome = resilience.Classify(err).String()
		var se *transport.StatusError
		if errors.As(err, &se) {
			res.Status = se.Code
		}
		return res
	}
	res.Status = v.(int)
	res.Outcome = outcomeOK
	return res
}

// parseHeaders parses "Name: value" pairs. Names are canonicalized.
func parseHeaders(raw []string) (http.Header, error) {
	header := make(http.Header, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: want \"Name: value\"", h)
		}
		header.Add(name, strings.TrimSpace(value))
	}
	return header, nil
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Host
}
