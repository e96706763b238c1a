package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/asquebay/zuvees-sync/internal/repository/sqlite"
)

// NewQueueCommand создаёт группу команд для очереди отложенных изменений
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit queued status changes",
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueDiscardCommand(rootOpts))

	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued status changes, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newAgent(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			updates, err := a.pending.Drain(ctx)
			if err != nil {
				return fmt.Errorf("failed to read queue: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(updates)
			}

			if len(updates) == 0 {
				fmt.Fprintln(out, "queue is empty")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tORDER\tSTATUS\tQUEUED AT")
			for _, u := range updates {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.OrderID, u.Status, u.Timestamp)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newQueueDiscardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <id>",
		Short: "Drop a queued status change without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q: must be a positive integer", args[0])
			}

			a, err := newAgent(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			u, err := a.pending.Get(ctx, id)
			if err != nil {
				if errors.Is(err, sqlite.ErrPendingUpdateNotFound) {
					return fmt.Errorf("no queued update with id %d", id)
				}
				return fmt.Errorf("failed to read queue: %w", err)
			}

			if err := a.pending.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to discard update %d: %w", id, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "discarded %d (order %s → %s)\n", u.ID, u.OrderID, u.Status)
			return nil
		},
	}
}
