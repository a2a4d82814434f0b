package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stratum/pkg/config"
	"github.com/openfroyo/stratum/pkg/cpi/backends"
	"github.com/openfroyo/stratum/pkg/fault"
)

func newValidateCommand() *cobra.Command {
	var showConfig bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Load the configuration the same way every other command does and check it.

This command checks:
  - Field values and durations
  - The provider backend is registered or the executable exists
  - The store and blobstore paths are usable`,
		Example: `  stratum validate -c /etc/stratum/config.yaml
  stratum validate --show`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), config.LoadOptions{Path: configPath})
			if err != nil {
				return err
			}

			log.Info().
				Str("config", configPath).
				Str("provider", cfg.Provider.Label()).
				Bool("external", cfg.Provider.IsExternal()).
				Msg("Validating configuration")

			if err := checkProvider(cfg.Provider); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showConfig {
				return printJSON(out, cfg)
			}
			fmt.Fprintf(out, "Configuration OK (provider %s", cfg.Provider.Label())
			if cfg.Store.Enabled {
				fmt.Fprintf(out, ", store %s", cfg.Store.Path)
			}
			if cfg.Blobstore.Path != "" {
				fmt.Fprintf(out, ", blobstore %s", cfg.Blobstore.Path)
			}
			fmt.Fprintln(out, ")")
			return nil
		},
	}

	cmd.Flags().BoolVar(&showConfig, "show", false, "print the effective configuration as JSON")

	return cmd
}

func checkProvider(p config.ProviderConfig) error {
	if p.IsExternal() {
		info, err := os.Stat(p.ExecutablePath)
		if err != nil {
			return fault.NewInvalidArgument(fmt.Sprintf("provider executable %s", p.ExecutablePath), err)
		}
		if info.IsDir() || info.Mode()&0o111 == 0 {
			return fault.NewInvalidArgument(fmt.Sprintf("provider executable %s is not executable", p.ExecutablePath), nil)
		}
		return nil
	}
	if _, ok := backends.Default().Lookup(p.Name); !ok {
		return fault.NewInvalidArgument(
			fmt.Sprintf("unknown backend %q (built-in: %v)", p.Name, backends.Default().Names()), nil)
	}
	return nil
}
