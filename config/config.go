// Package config loads relia profiles from YAML and the environment and
// builds one resilience.Facade per profile.
//
// A profile only enables the components it names: a profile without a
// circuit section gets no circuit breaker. An empty section enables the
// component with its defaults:
//
//	service: checkout
//	profiles:
//	  default:
//	    limiters:
//	      default: {capacity: 50, refill_rate: 10}
//	    circuit: {}
//	    dedup: true
//	    retry: {max_retries: 3, initial_delay: 2s}
//
// Keys are case-insensitive, so profile and limiter names are lower case.
// Values may reference the environment as ${VAR}; write $$ for a literal $.
package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/relia/observe"
	"github.com/jonwraymond/relia/resilience"
)

// DefaultProfileName is the profile used when none is selected.
const DefaultProfileName = "default"

// Config is the root of a relia configuration file.
type Config struct {
	Service  string             `mapstructure:"service" yaml:"service"`
	Observe  ObserveConfig      `mapstructure:"observe" yaml:"observe"`
	Profiles map[string]Profile `mapstructure:"profiles" yaml:"profiles"`
}

// ObserveConfig mirrors observe.Config without the service identity.
type ObserveConfig struct {
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter  string  `mapstructure:"exporter" yaml:"exporter"`
	SamplePct float64 `mapstructure:"sample_pct" yaml:"sample_pct"`
}

// MetricsConfig configures metrics.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Exporter string `mapstructure:"exporter" yaml:"exporter"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Level   string `mapstructure:"level" yaml:"level"`
}

// Profile is a named set of component settings.
type Profile struct {
	Limiters map[string]LimiterConfig `mapstructure:"limiters" yaml:"limiters,omitempty"`
	Circuit  *CircuitConfig           `mapstructure:"circuit" yaml:"circuit,omitempty"`
	Dedup    bool                     `mapstructure:"dedup" yaml:"dedup,omitempty"`
	Retry    *RetryConfig             `mapstructure:"retry" yaml:"retry,omitempty"`
	Bulkhead *BulkheadConfig          `mapstructure:"bulkhead" yaml:"bulkhead,omitempty"`

	// Timeout bounds each call. Zero disables the timeout policy.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`

	// Order is the outermost-first policy order. Empty uses
	// resilience.DefaultOrder.
	Order []resilience.Policy `mapstructure:"order" yaml:"order,omitempty"`
}

// LimiterConfig configures one rate limit domain.
type LimiterConfig struct {
	Capacity   int     `mapstructure:"capacity" yaml:"capacity"`
	RefillRate float64 `mapstructure:"refill_rate" yaml:"refill_rate"`
}

// CircuitConfig configures the circuit breaker.
type CircuitConfig struct {
	FailureThreshold         int           `mapstructure:"failure_threshold" yaml:"failure_threshold,omitempty"`
	ResetTimeout             time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout,omitempty"`
	HalfOpenSuccessThreshold int           `mapstructure:"half_open_success_threshold" yaml:"half_open_success_threshold,omitempty"`
}

// RetryConfig configures the retry executor.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay,omitempty"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier,omitempty"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay,omitempty"`
	Jitter       float64       `mapstructure:"jitter" yaml:"jitter,omitempty"`
}

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent,omitempty"`
	MaxWait       time.Duration `mapstructure:"max_wait" yaml:"max_wait,omitempty"`
}

// DefaultProfile returns the profile used when a file defines none: a
// default limiter, a circuit breaker, deduplication and retry, all with
// component defaults.
func DefaultProfile() Profile {
	return Profile{
		Limiters: map[string]LimiterConfig{DefaultProfileName: {Capacity: 50, RefillRate: 10}},
		Circuit:  &CircuitConfig{},
		Dedup:    true,
		Retry:    &RetryConfig{},
	}
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Service == "" {
		errs = append(errs, ErrMissingService)
	}
	if len(c.Profiles) == 0 {
		errs = append(errs, ErrNoProfiles)
	}
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("profile %q: %w", name, err))
		}
	}

	obs := c.ObserveConfig()
	if err := obs.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Validate reports every problem with the profile.
func (p Profile) Validate() error {
	var errs []error
	invalid := func(field string, v any) {
		errs = append(errs, fmt.Errorf("%w: %s = %v", ErrInvalidValue, field, v))
	}

	for _, name := range sortedKeys(p.Limiters) {
		l := p.Limiters[name]
		if l.Capacity < 0 {
			invalid("limiters."+name+".capacity", l.Capacity)
		}
		if l.RefillRate < 0 {
			invalid("limiters."+name+".refill_rate", l.RefillRate)
		}
	}

	if c := p.Circuit; c != nil {
		if c.FailureThreshold < 0 {
			invalid("circuit.failure_threshold", c.FailureThreshold)
		}
		if c.ResetTimeout < 0 {
			invalid("circuit.reset_timeout", c.ResetTimeout)
		}
		if c.HalfOpenSuccessThreshold < 0 {
			invalid("circuit.half_open_success_threshold", c.HalfOpenSuccessThreshold)
		}
	}

	if r := p.Retry; r != nil {
		if r.InitialDelay < 0 {
			invalid("retry.initial_delay", r.InitialDelay)
		}
		if r.Multiplier != 0 && r.Multiplier < 1 {
			invalid("retry.multiplier", r.Multiplier)
		}
		if r.MaxDelay < 0 {
			invalid("retry.max_delay", r.MaxDelay)
		}
		if r.Jitter < 0 || r.Jitter >= 1 {
			invalid("retry.jitter", r.Jitter)
		}
	}

	if b := p.Bulkhead; b != nil {
		if b.MaxConcurrent < 0 {
			invalid("bulkhead.max_concurrent", b.MaxConcurrent)
		}
		if b.MaxWait < 0 {
			invalid("bulkhead.max_wait", b.MaxWait)
		}
	}

	if p.Timeout < 0 {
		invalid("timeout", p.Timeout)
	}

	seen := make(map[resilience.Policy]bool, len(p.Order))
	for _, policy := range p.Order {
		if _, err := resilience.ParsePolicy(string(policy)); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidValue, err))
			continue
		}
		if seen[policy] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicatePolicy, policy))
		}
		seen[policy] = true
	}

	return errors.Join(errs...)
}

// Profile returns the named profile. An empty name selects
// DefaultProfileName.
func (c *Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = DefaultProfileName
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// ProfileNames returns the profile names in sorted order.
func (c *Config) ProfileNames() []string {
	return sortedKeys(c.Profiles)
}

// ObserveConfig converts the observe section into an observe.Config.
func (c *Config) ObserveConfig() observe.Config {
	return observe.Config{
		ServiceName: c.Service,
		Tracing: observe.TracingConfig{
			Enabled:   c.Observe.Tracing.Enabled,
			Exporter:  c.Observe.Tracing.Exporter,
			SamplePct: c.Observe.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Observe.Metrics.Enabled,
			Exporter: c.Observe.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: c.Observe.Logging.Enabled,
			Level:   c.Observe.Logging.Level,
		},
	}
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
