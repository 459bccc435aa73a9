// Package cli implements the relia command line.
package cli

import (
	"context"
	"fmt"
	"io"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/relia/config"
	"github.com/jonwraymond/relia/observe"
	"github.com/jonwraymond/relia/resilience"
)

// Version information set by the main package.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{"dev", "unknown", "unknown"}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

type rootOptions struct {
	configPath string
	profile    string
	logLevel   string
}

// NewRootCommand builds the relia command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "relia",
		Short: "Resilience policies for outgoing calls",
		Long: `relia applies rate limiting, circuit breaking, request deduplication
and retries to outgoing calls.

Profiles are read from relia.yaml in the working directory or
$HOME/.config/relia, or from the file named by --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default: ./relia.yaml or $HOME/.config/relia/relia.yaml)")
	pf.StringVar(&opts.profile, "profile", config.DefaultProfileName, "profile to use")
	pf.StringVar(&opts.logLevel, "log-level", "", "override the configured log level: debug|info|warn|error")

	cmd.AddCommand(
		newConfigCommand(opts),
		newProbeCommand(opts),
		newServeCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "relia %s (commit %s, built %s)\n",
				versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
			return err
		},
	}
}

// load reads the configuration and selects the profile.
func (o *rootOptions) load() (*config.Config, config.Profile, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, config.Profile{}, err
	}
	if o.logLevel != "" {
		cfg.Observe.Logging.Enabled = true
		cfg.Observe.Logging.Level = o.logLevel
	}
	p, err := cfg.Profile(o.profile)
	if err != nil {
		return nil, config.Profile{}, err
	}
	return cfg, p, nil
}

// runtime is the wiring shared by probe and serve: one Facade built from
// the selected profile, reporting to both otel and plain counters.
type runtime struct {
	cfg      *config.Config
	profile  string
	observer observe.Observer
	counters *resilience.Counters
	facade   *resilience.Facade
	registry *promclient.Registry
	gauges   metric.Registration
}

func (o *rootOptions) setup(ctx context.Context, diag io.Writer) (*runtime, error) {
	cfg, p, err := o.load()
	if err != nil {
		return nil, err
	}

	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	obs, err := observe.NewObserver(ctx, cfg.ObserveConfig(),
		observe.WithRegisterer(reg),
		observe.WithLogWriter(diag),
		observe.WithExporterWriter(diag),
	)
	if err != nil {
		return nil, err
	}

	rec, err := observe.NewEventRecorder(obs.Meter(), obs.Logger())
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	counters := &resilience.Counters{}
	f, err := p.Build(resilience.MultiObserver(rec, counters))
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	gauges, err := observe.RegisterGauges(obs.Meter(), f)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		profile:  o.profileName(),
		observer: obs,
		counters: counters,
		facade:   f,
		registry: reg,
		gauges:   gauges,
	}, nil
}

func (r *runtime) close(ctx context.Context) error {
	if r.gauges != nil {
		_ = r.gauges.Unregister()
	}
	return r.observer.Shutdown(ctx)
}
