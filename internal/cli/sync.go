package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSyncCommand создаёт команду sync: один проход дренажа очереди
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Try to deliver every queued status change once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newAgent(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			before, err := a.pending.Count(ctx)
			if err != nil {
				return fmt.Errorf("failed to read queue: %w", err)
			}

			remaining, err := a.orch.Drain(ctx)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "synced %d, remaining %d\n", before-remaining, remaining)
			return nil
		},
	}
}
