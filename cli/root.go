/*
Package cli provides the fulfillment engine command line.

COMMANDS:
  serve                      HTTP API plus the background replay queue
  replay                     One reservation replay by priority, then exit
  recalc-tax <orderID>       Recalculate one order's tax, then exit

CONFIGURATION:
  --config points at an optional YAML file. FULFILLMENT_* environment
  variables override it (FULFILLMENT_DATABASE_PATH, FULFILLMENT_TAX_SERVICE_URL,
  ...). See config/config.go for the keys and defaults.

SEE ALSO:
  - app.go: Dependency wiring shared by every command
  - cmd/server/main.go: Entry point
*/
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fulfillment",
		Short: "Order fulfillment allocation and consistency engine",
		Long: `Moves committed order quantity between ship groups, replays inventory
reservations by priority, and reconciles order tax against billed amounts.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewRecalcTaxCommand(opts))

	return cmd
}
