package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jonwraymond/relia/resilience"
)

// EnvPrefix prefixes environment overrides: RELIA_OBSERVE_LOGGING_LEVEL
// overrides observe.logging.level. Profile keys can be overridden only
// when the file already sets them.
const EnvPrefix = "RELIA"

// Load reads the configuration file at path. An empty path searches for
// relia.yaml in the working directory and $HOME/.config/relia, and falls
// back to defaults when none exists.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("relia")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/relia")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", configName(v, path), err)
		}
		return decode(v)
	}

	raw, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
	}
	if err := readExpanded(v, raw); err != nil {
		return nil, fmt.Errorf("config: %s: %w", v.ConfigFileUsed(), err)
	}
	return decode(v)
}

// Read parses YAML configuration from r.
func Read(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	v := newViper()
	v.SetConfigType("yaml")
	if err := readExpanded(v, raw); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return decode(v)
}

// readExpanded loads raw into v after environment expansion.
func readExpanded(v *viper.Viper, raw []byte) error {
	text, err := ExpandEnv(string(raw))
	if err != nil {
		return err
	}
	return v.ReadConfig(strings.NewReader(text))
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "relia")

	v.SetDefault("observe.tracing.enabled", false)
	v.SetDefault("observe.tracing.exporter", "none")
	v.SetDefault("observe.tracing.sample_pct", 1.0)

	v.SetDefault("observe.metrics.enabled", false)
	v.SetDefault("observe.metrics.exporter", "none")

	v.SetDefault("observe.logging.enabled", true)
	v.SetDefault("observe.logging.level", "info")
}

func decode(v *viper.Viper) (*Config, error) {
	settings := v.AllSettings()
	keepEmptySections(settings, v.Get("profiles"))

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			policyHook(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("config: create decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if len(cfg.Profiles) == 0 {
		cfg.Profiles = map[string]Profile{DefaultProfileName: DefaultProfile()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// keepEmptySections restores profile sections written as {} which
// AllSettings drops: an empty section enables a component with defaults.
func keepEmptySections(settings map[string]any, raw any) {
	rawProfiles, ok := raw.(map[string]any)
	if !ok {
		return
	}
	profiles, _ := settings["profiles"].(map[string]any)
	if profiles == nil {
		profiles = make(map[string]any, len(rawProfiles))
		settings["profiles"] = profiles
	}

	for name, rawProfile := range rawProfiles {
		sections, ok := rawProfile.(map[string]any)
		if !ok {
			continue
		}
		profile, _ := profiles[name].(map[string]any)
		if profile == nil {
			profile = make(map[string]any, len(sections))
			profiles[name] = profile
		}
		for key, section := range sections {
			if m, ok := section.(map[string]any); ok && len(m) == 0 {
				if _, exists := profile[key]; !exists {
					profile[key] = map[string]any{}
				}
			}
		}
	}
}

var policyType = reflect.TypeOf(resilience.Policy(""))

// policyHook parses policy names so typos fail at load time.
func policyHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != policyType || from.Kind() != reflect.String {
			return data, nil
		}
		return resilience.ParsePolicy(reflect.ValueOf(data).String())
	}
}

func configName(v *viper.Viper, path string) string {
	if used := v.ConfigFileUsed(); used != "" {
		return used
	}
	return path
}
