// Package cli — команды агента курьера
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions — глобальные флаги всех команд
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand создаёт корневую команду rider
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rider",
		Short: "Offline-tolerant delivery agent for Zuvees riders",
		Long: `rider keeps order status changes on the device until the order API
confirms them, and serves the storefront through a network-first cache.

Config is read from --config, then $CONFIG_PATH, then config/config.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config.yaml")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInstallCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))

	return cmd
}
