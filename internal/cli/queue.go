package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the upload queue",
	}
	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueRetryCommand(opts))
	cmd.AddCommand(newQueueDiscardCommand(opts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued operations in replay order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				ops, err := a.engine.Queue().ListAll(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSON {
					return outputJSON(out, ops)
				}
				if len(ops) == 0 {
					PrintEmptyState(out, "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(ops))
				for _, op := range ops {
					rows = append(rows, []string{
						strconv.FormatInt(op.Seq, 10),
						string(op.Kind),
						string(op.Entity),
						op.EntityID,
						string(op.Status),
						strconv.Itoa(op.RetryCount),
						op.LastError,
					})
				}
				PrintTable(out, []string{"Seq", "Op", "Entity", "ID", "Status", "Retries", "Last error"}, rows)
				return nil
			})
		},
	}
}

func newQueueRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-queue rejected operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				n, err := a.engine.RetryDead(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSON {
					return outputJSON(out, map[string]int{"retried": n})
				}
				PrintSuccess(out, fmt.Sprintf("Re-queued %s", countNoun(n, "operation", "operations")))
				return nil
			})
		},
	}
}

func newQueueDiscardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard",
		Short: "Drop rejected operations and restore the server's version",
		Long: `Drop every rejected operation together with the later queued changes of the
same entities. Entities that were synced before return to the server's version
on the next sync; entities that never reached the server are removed locally.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				n, err := a.engine.DiscardDead(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSON {
					return outputJSON(out, map[string]int{"discarded": n})
				}
				PrintSuccess(out, fmt.Sprintf("Discarded %s", countNoun(n, "operation", "operations")))
				return nil
			})
		},
	}
}
