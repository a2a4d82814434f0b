package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stratum/pkg/fault"
)

var (
	// Global flags
	configPath string
	caller     string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error to the process exit status. Retryable failures
// exit with 75 (EX_TEMPFAIL) so wrappers can tell them apart.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case fault.IsRetryable(err):
		return 75
	case fault.IsInvalidArgument(err):
		return 64
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stratum",
		Short: "Stratum - cloud provider dispatch and VM agent client",
		Long: `Stratum drives infrastructure through a fixed Cloud Provider Interface
and talks to the agents running inside provisioned VMs.

Features:
  - One operation set for every backend, in-process or external executable
  - External CPI server mode for deploying backends as executables
  - Agent client with task polling, retries and pluggable credentials
  - Settings registry and CPI call audit backed by SQLite
  - Blobstore with BLAKE3 integrity verification`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&caller, "caller", "cli", "caller identity recorded with each request")

	rootCmd.AddCommand(newCPICommand())
	rootCmd.AddCommand(newAgentCommand())
	rootCmd.AddCommand(newSettingsCommand())
	rootCmd.AddCommand(newCallsCommand())
	rootCmd.AddCommand(newBlobCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
