package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stratum/pkg/blobstore"
)

func newBlobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Manage blobs in the local blobstore",
		Long: `Store and fetch blobs such as rendered job templates and compiled
packages. With blobstore.verify set every blob is checked against its
BLAKE3 digest on read.`,
	}

	cmd.AddCommand(newBlobPutCommand())
	cmd.AddCommand(newBlobGetCommand())
	cmd.AddCommand(newBlobDeleteCommand())
	cmd.AddCommand(newBlobExistsCommand())

	return cmd
}

func withBlobstore(cmd *cobra.Command, fn func(c blobstore.Client) error) error {
	rt, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	c, err := rt.blobstore()
	if err != nil {
		return err
	}
	return fn(c)
}

func newBlobPutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a file and print its blob id",
		Example: `  stratum blob put ./job.tgz
  tar cz ./job | stratum blob put -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}

			return withBlobstore(cmd, func(c blobstore.Client) error {
				id, err := c.Create(cmd.Context(), data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newBlobGetCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <blob-id>",
		Short: "Download a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBlobstore(cmd, func(c blobstore.Client) error {
				data, err := c.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the blob to a file instead of stdout")
	return cmd
}

func newBlobDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <blob-id>",
		Short: "Delete a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBlobstore(cmd, func(c blobstore.Client) error {
				return c.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func newBlobExistsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <blob-id>",
		Short: "Report whether a blob exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBlobstore(cmd, func(c blobstore.Client) error {
				ok, err := c.Exists(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			})
		},
	}
}
