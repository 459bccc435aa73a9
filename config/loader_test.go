package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/relia/resilience"
)

func TestLoad(t *testing.T) {
	cfg, err := Load("testdata/relia.yaml")
	require.NoError(t, err)

	assert.Equal(t, "checkout", cfg.Service)
	assert.Equal(t, []string{"batch", "default"}, cfg.ProfileNames())

	t.Run("observe", func(t *testing.T) {
		assert.True(t, cfg.Observe.Tracing.Enabled)
		assert.Equal(t, "stdout", cfg.Observe.Tracing.Exporter)
		assert.Equal(t, 0.25, cfg.Observe.Tracing.SamplePct)
		assert.Equal(t, "debug", cfg.Observe.Logging.Level)
		assert.True(t, cfg.Observe.Logging.Enabled, "default kept")
		assert.Equal(t, "none", cfg.Observe.Metrics.Exporter, "default kept")
	})

	t.Run("default profile", func(t *testing.T) {
		p := cfg.Profiles["default"]
		assert.Equal(t, LimiterConfig{Capacity: 5, RefillRate: 0.5}, p.Limiters["search"])
		require.NotNil(t, p.Circuit)
		assert.Equal(t, 30*time.Second, p.Circuit.ResetTimeout)
		assert.Equal(t, 2, p.Circuit.HalfOpenSuccessThreshold)
		assert.True(t, p.Dedup)
		require.NotNil(t, p.Retry)
		assert.Equal(t, 100*time.Millisecond, p.Retry.InitialDelay)
		assert.Equal(t, 3.0, p.Retry.Multiplier)
		assert.Equal(t, 5*time.Second, p.Timeout)
		assert.Equal(t, []resilience.Policy{
			resilience.PolicyRateLimit,
			resilience.PolicyCircuit,
			resilience.PolicyDedup,
			resilience.PolicyRetry,
			resilience.PolicyTimeout,
		}, p.Order)
		assert.Nil(t, p.Bulkhead)
	})

	t.Run("batch profile", func(t *testing.T) {
		p := cfg.Profiles["batch"]
		require.NotNil(t, p.Bulkhead)
		assert.Equal(t, 4, p.Bulkhead.MaxConcurrent)
		assert.Equal(t, 250*time.Millisecond, p.Bulkhead.MaxWait)
		require.NotNil(t, p.Retry, "empty section enables retry with defaults")
		assert.Equal(t, RetryConfig{}, *p.Retry)
		assert.Nil(t, p.Circuit)
		assert.Empty(t, p.Limiters)
	})
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "relia", cfg.Service)
	assert.Equal(t, "info", cfg.Observe.Logging.Level)
	assert.Equal(t, map[string]Profile{DefaultProfileName: DefaultProfile()}, cfg.Profiles)
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relia.yaml"), []byte("service: found\n"), 0o600))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "found", cfg.Service)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELIA_SERVICE", "from-env")
	t.Setenv("RELIA_OBSERVE_LOGGING_LEVEL", "error")
	t.Setenv("RELIA_PROFILES_DEFAULT_RETRY_MAX_RETRIES", "7")

	cfg, err := Load("testdata/relia.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Service)
	assert.Equal(t, "error", cfg.Observe.Logging.Level)
	assert.Equal(t, 7, cfg.Profiles["default"].Retry.MaxRetries)
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"malformed", "service: [", "config: parse"},
		{"unknown key", "service: x\nretries: 3\n", "retries"},
		{"unknown policy", "profiles:\n  default:\n    order: [retry, hedge]\n", "hedge"},
		{"bad duration", "profiles:\n  default:\n    timeout: soon\n", "config: decode"},
		{"invalid range", "profiles:\n  default:\n    retry: {jitter: 2}\n", "retry.jitter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRead_PolicyCaseInsensitive(t *testing.T) {
	cfg, err := Read(strings.NewReader("profiles:\n  default:\n    order: [Retry, CIRCUIT]\n"))
	require.NoError(t, err)
	assert.Equal(t, []resilience.Policy{resilience.PolicyRetry, resilience.PolicyCircuit}, cfg.Profiles["default"].Order)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("CHECKOUT_SERVICE", "checkout-eu")
	t.Setenv("SEARCH_CAPACITY", "12")

	path := filepath.Join(t.TempDir(), "relia.yaml")
	content := "service: ${CHECKOUT_SERVICE}\n" +
		"profiles:\n  default:\n    limiters:\n      search: {capacity: ${SEARCH_CAPACITY}, refill_rate: 1}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout-eu", cfg.Service)
	assert.Equal(t, 12, cfg.Profiles["default"].Limiters["search"].Capacity)
}

func TestRead_MissingEnvironment(t *testing.T) {
	_, err := Read(strings.NewReader("service: ${RELIA_TEST_UNSET_B}-${RELIA_TEST_UNSET_A}\n"))
	require.ErrorIs(t, err, ErrMissingEnv)
	assert.Contains(t, err.Error(), "RELIA_TEST_UNSET_A, RELIA_TEST_UNSET_B")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("RELIA_TEST_X", "y")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${RELIA_TEST_X}", "y"},
		{"$RELIA_TEST_X", "y"},
		{"$$${RELIA_TEST_X}", "$y"},
		{"cost: $$5", "cost: $5"},
		{"$RELIA_TEST_UNSET_LOOSE", ""},
	}
	for _, tt := range tests {
		got, err := ExpandEnv(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ExpandEnv("a=${RELIA_TEST_X} b=${RELIA_TEST_MISSING}")
	require.ErrorIs(t, err, ErrMissingEnv)
	assert.Contains(t, err.Error(), "RELIA_TEST_MISSING")
}
