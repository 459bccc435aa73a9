package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/relia/config"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect relia configuration",
	}
	cmd.AddCommand(newConfigShowCommand(opts), newConfigValidateCommand(opts))
	return cmd
}

func newConfigShowCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the selected profile",
		Long: `Show the selected profile as a table, or the whole effective
configuration as YAML. Unset values print as "default".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, p, err := opts.load()
			if err != nil {
				return err
			}

			switch format {
			case "table":
				renderProfile(cmd.OutOrStdout(), cfg, opts.profileName(), p)
				return nil
			case "yaml":
				out, err := cfg.YAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			default:
				return fmt.Errorf("unsupported format %q: want table or yaml", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table|yaml")
	return cmd
}

func newConfigValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and build every profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			for _, name := range cfg.ProfileNames() {
				p, _ := cfg.Profile(name)
				if _, err := p.Build(nil); err != nil {
					return fmt.Errorf("profile %q: %w", name, err)
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d profile(s) ok\n", cfg.Service, len(cfg.Profiles))
			return err
		},
	}
}

func (o *rootOptions) profileName() string {
	if o.profile == "" {
		return config.DefaultProfileName
	}
	return o.profile
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
