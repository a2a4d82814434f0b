package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stratum/pkg/config"
	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/cpi/backends"
	"github.com/openfroyo/stratum/pkg/cpi/server"
	"github.com/openfroyo/stratum/pkg/dispatcher"
	"github.com/openfroyo/stratum/pkg/process"
)

func newCPICommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cpi",
		Short: "Cloud Provider Interface operations",
		Long: `Dispatch CPI operations to the configured backend, or serve a
built-in backend over the external CPI protocol.`,
	}

	cmd.AddCommand(newCPICallCommand())
	cmd.AddCommand(newCPIServeCommand())
	cmd.AddCommand(newCPIOperationsCommand())

	return cmd
}

func newCPICallCommand() *cobra.Command {
	var (
		backend    string
		executable string
		options    string
	)

	cmd := &cobra.Command{
		Use:   "call <operation> [arguments-json]",
		Short: "Dispatch one CPI operation",
		Long: `Dispatch one CPI operation through the dispatcher and print its result
as JSON. Arguments are given as a JSON array in operation order.`,
		Example: `  # Ask the configured backend for its capabilities
  stratum cpi call info

  # Create a VM with the dummy backend
  stratum cpi call create_vm '["agent-1","sc-1",{},{}]' --backend dummy --options 'dir: /tmp/cpi'

  # Use an external CPI executable
  stratum cpi call has_vm '["vm-1"]' --executable /var/vcap/jobs/cpi/bin/cpi`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := cpi.Operation(args[0])
			if err := op.Validate(); err != nil {
				return err
			}
			var rawArgs string
			if len(args) > 1 {
				rawArgs = args[1]
			}
			callArgs, err := parseJSONArgs(rawArgs)
			if err != nil {
				return err
			}

			overrides := map[string]interface{}{}
			if backend != "" {
				overrides["provider.name"] = backend
			}
			if executable != "" {
				overrides["provider.executable_path"] = executable
			}

			rt, err := setup(cmd, overrides)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			if options != "" {
				opts, err := config.ParseOptions(options)
				if err != nil {
					return err
				}
				rt.cfg.Provider.Options = mergeOptions(rt.cfg.Provider.Options, opts)
			}

			d, err := newDispatcher(rt)
			if err != nil {
				return err
			}

			oc := rt.proc.NewOperationContext(caller)
			rt.logger.Info().
				Str("operation", string(op)).
				Str("backend", d.Backend()).
				Str("request_id", oc.RequestID).
				Msg("Dispatching CPI call")

			result, err := d.Call(cmd.Context(), op, cpi.Args(callArgs), oc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "built-in backend name (overrides provider.name)")
	cmd.Flags().StringVar(&executable, "executable", "", "external CPI executable (overrides provider.executable_path)")
	cmd.Flags().StringVar(&options, "options", "", "backend options as YAML or JSON, merged over provider.options")

	return cmd
}

func newDispatcher(rt *runtime) (*dispatcher.Dispatcher, error) {
	opts := []dispatcher.Option{
		dispatcher.WithMetrics(rt.telemetry.Metrics),
		dispatcher.WithTracer(rt.telemetry.Tracer),
	}
	adapter, err := dispatcher.Resolve(rt.cfg.Provider, backends.Default(), rt.proc, opts...)
	if err != nil {
		return nil, err
	}
	return dispatcher.New(rt.proc, adapter, opts...), nil
}

func newCPIServeCommand() *cobra.Command {
	var (
		backend string
		options string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer one external CPI request with a built-in backend",
		Long: `Read one CPI request from stdin, run it against a built-in backend and
write one response to stdout. Point provider.executable_path at a wrapper
script that runs this command to deploy a built-in backend as an external
CPI.`,
		Example: `  echo '{"method":"info","arguments":[],"context":{"request_id":"r-1"}}' | \
    stratum cpi serve --backend dummy --options 'dir: /tmp/cpi'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.ParseOptions(options)
			if err != nil {
				return err
			}

			// no config file and no store: the parent process owns both
			p := process.New(process.Options{IDs: process.UUIDSource{}})
			srv, err := server.New(backends.Default(), backend, opts, p)
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context(), os.Stdin, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "built-in backend name")
	cmd.Flags().StringVar(&options, "options", "", "backend options as YAML or JSON")
	_ = cmd.MarkFlagRequired("backend")

	return cmd
}

func newCPIOperationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List CPI operations and their arguments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, op := range cpi.Operations() {
				fmt.Fprintf(out, "%s(", op)
				for i, p := range op.Schema() {
					if i > 0 {
						fmt.Fprint(out, ", ")
					}
					fmt.Fprintf(out, "%s %s", p.Name, p.Kind)
					if p.Optional {
						fmt.Fprint(out, "?")
					}
				}
				fmt.Fprintln(out, ")")
			}
			fmt.Fprintf(out, "\nbuilt-in backends: %v\n", backends.Default().Names())
			return nil
		},
	}
}

func mergeOptions(base, over map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(over))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	return merged
}
