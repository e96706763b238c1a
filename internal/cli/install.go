package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewInstallCommand создаёт команду install: загрузить манифест в кэш и активировать версию
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Precache the storefront shell and activate the configured cache version",
		Long: `Fetch every path listed in rider.precache from the origin and store them
as one batch under rider.cache_name. If any path fails nothing is stored.
On success older cache versions are deleted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newAgent(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			gw, err := a.newGateway()
			if err != nil {
				return fmt.Errorf("failed to create gateway: %w", err)
			}
			if err := gw.OnInstall(ctx); err != nil {
				return fmt.Errorf("install failed: %w", err)
			}
			if err := gw.OnActivate(ctx); err != nil {
				return fmt.Errorf("activation failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cache %s installed (%d resources)\n", a.cfg.Rider.CacheName, len(a.cfg.Rider.Precache))
			return nil
		},
	}
}
