package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stratum/pkg/store"
)

func newCallsCommand() *cobra.Command {
	var filter store.CallFilter

	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Show the audit trail of dispatched CPI calls",
		Example: `  stratum calls --limit 20
  stratum calls --outcome error
  stratum calls --request-id cpi-000042`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *store.SQLiteStore) error {
				calls, err := s.ListCalls(cmd.Context(), filter)
				if err != nil {
					return err
				}
				type row struct {
					RequestID string `json:"request_id"`
					Caller    string `json:"caller"`
					Backend   string `json:"backend"`
					Operation string `json:"operation"`
					Outcome   string `json:"outcome"`
					ErrorKind string `json:"error_kind,omitempty"`
					Message   string `json:"message,omitempty"`
					StartedAt string `json:"started_at"`
					Duration  string `json:"duration"`
				}
				rows := make([]row, 0, len(calls))
				for _, c := range calls {
					rows = append(rows, row{
						RequestID: c.RequestID,
						Caller:    c.Caller,
						Backend:   c.Backend,
						Operation: c.Operation,
						Outcome:   c.Outcome,
						ErrorKind: c.ErrorKind,
						Message:   c.Message,
						StartedAt: c.StartedAt.Format(time.RFC3339),
						Duration:  c.Duration.String(),
					})
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}

	cmd.Flags().StringVar(&filter.RequestID, "request-id", "", "only calls with this request id")
	cmd.Flags().StringVar(&filter.Operation, "operation", "", "only calls of this operation")
	cmd.Flags().StringVar(&filter.Outcome, "outcome", "", "only calls with this outcome (ok, error, absorbed)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of calls")

	return cmd
}
