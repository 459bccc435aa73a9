package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/relia/health"
	"github.com/jonwraymond/relia/observe"
)

type serveOptions struct {
	addr            string
	shutdownTimeout time.Duration
	checkTimeout    time.Duration
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	so := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, circuit and metrics endpoints",
		Long: `Serve the selected profile's operational endpoints:

  GET  /healthz                   liveness
  GET  /readyz                    readiness from circuit and limiter checks
  GET  /health                    detailed check results
  GET  /circuits                  circuit snapshots
  POST /circuits/{service}/reset  close one circuit
  GET  /metrics                   Prometheus metrics

SIGINT or SIGTERM shuts the server down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := opts.setup(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(context.WithoutCancel(ctx)) }()

			ln, err := net.Listen("tcp", so.addr)
			if err != nil {
				return err
			}
			return serve(ctx, rt, ln, so)
		},
	}

	f := cmd.Flags()
	f.StringVar(&so.addr, "addr", ":8080", "listen address")
	f.DurationVar(&so.shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown limit")
	f.DurationVar(&so.checkTimeout, "check-timeout", 5*time.Second, "health check timeout")
	return cmd
}

// serve runs the HTTP server on ln until ctx is done.
func serve(ctx context.Context, rt *runtime, ln net.Listener, so serveOptions) error {
	logger := rt.observer.Logger()
	srv := &http.Server{
		Handler:           rt.handler(so.checkTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info(ctx, "serving",
		observe.Field{Key: "addr", Value: ln.Addr().String()},
		observe.Field{Key: "service", Value: rt.cfg.Service},
		observe.Field{Key: "profile", Value: rt.profile},
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info(context.WithoutCancel(ctx), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), so.shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (r *runtime) handler(checkTimeout time.Duration) http.Handler {
	agg := health.NewAggregator(health.AggregatorConfig{Timeout: checkTimeout})
	health.RegisterFacade(agg, r.facade)

	mux := http.NewServeMux()
	health.RegisterHandlers(mux, agg)
	if cb := r.facade.CircuitBreaker(); cb != nil {
		health.RegisterCircuitHandlers(mux, cb)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	return mux
}
