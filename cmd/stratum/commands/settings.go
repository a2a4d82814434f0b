package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stratum/pkg/store"
)

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage the instance settings registry",
		Long: `Read and write the bootstrap settings agents fetch for their instance.
Settings are opaque JSON documents keyed by instance id.`,
	}

	cmd.AddCommand(newSettingsGetCommand())
	cmd.AddCommand(newSettingsPutCommand())
	cmd.AddCommand(newSettingsDeleteCommand())
	cmd.AddCommand(newSettingsListCommand())

	return cmd
}

func withStore(cmd *cobra.Command, fn func(s *store.SQLiteStore) error) error {
	rt, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	s, err := rt.requireStore()
	if err != nil {
		return err
	}
	return fn(s)
}

func newSettingsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <instance-id>",
		Short: "Print the settings of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *store.SQLiteStore) error {
				st, err := s.GetSettings(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st.Data)
			})
		},
	}
}

func newSettingsPutCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "put <instance-id> [settings-json]",
		Short: "Create or replace the settings of an instance",
		Example: `  stratum settings put i-1 '{"agent_id":"a-1","mbus":"https://10.0.0.5:6868"}'
  stratum settings put i-1 --file settings.json
  cat settings.json | stratum settings put i-1 --file -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := settingsInput(cmd, args, file)
			if err != nil {
				return err
			}
			return withStore(cmd, func(s *store.SQLiteStore) error {
				if err := s.PutSettings(cmd.Context(), args[0], data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored settings for %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read settings from a file, or - for stdin")
	return cmd
}

func settingsInput(cmd *cobra.Command, args []string, file string) ([]byte, error) {
	switch {
	case len(args) == 2 && file != "":
		return nil, fmt.Errorf("pass settings either inline or with --file, not both")
	case len(args) == 2:
		return []byte(args[1]), nil
	case file == "-":
		return io.ReadAll(cmd.InOrStdin())
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("no settings given")
	}
}

func newSettingsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <instance-id>",
		Short: "Delete the settings of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *store.SQLiteStore) error {
				return s.DeleteSettings(cmd.Context(), args[0])
			})
		},
	}
}

func newSettingsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances with settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *store.SQLiteStore) error {
				ids, err := s.ListInstances(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}
