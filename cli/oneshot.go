package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/warp/fulfillment-engine/core"
)

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay every reservation by priority",
		Long: `Cancel every reservation and re-reserve in rank order, then unranked
groups in their original order. Prints the recorded run as JSON.

With redis.addr configured, the replay first takes the shared Redis lock and
fails with a conflict when another process holds it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(cmdContext(cmd), rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			run, err := app.Engine.ReplayReservationsByPriority(cmdContext(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		},
	}
}

// RecalcTaxOptions holds flags for the recalc-tax command.
type RecalcTaxOptions struct {
	*RootOptions
	ContactMechChanged bool
}

// NewRecalcTaxCommand creates the recalc-tax command.
func NewRecalcTaxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecalcTaxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recalc-tax <orderID>",
		Short: "Recalculate one order's tax",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(cmdContext(cmd), opts.RootOptions)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Engine.RecalcTax(cmdContext(cmd), core.OrderID(args[0]), opts.ContactMechChanged)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().BoolVar(&opts.ContactMechChanged, "contact-mech-changed", false, "keep already-billed tax in place")
	return cmd
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
