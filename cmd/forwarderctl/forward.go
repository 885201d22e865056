package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shineum/ses-forwarder/internal/app"
	"github.com/shineum/ses-forwarder/internal/forwarder"
	"github.com/shineum/ses-forwarder/internal/trigger"
)

func newForwardCommand(opts *rootOptions) *cobra.Command {
	var (
		to          string
		destination string
		eventFile   string
	)

	cmd := &cobra.Command{
		Use:   "forward [MESSAGE_ID]",
		Short: "Forward a message stored in the bucket",
		Long: "Forward a stored message to the configured forward address.\n\n" +
			"With --destination the message is routed like a receipt notification\n" +
			"for that address, so report addresses are skipped. With --event the\n" +
			"message id and destination are read from an SES event JSON file.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if to != "" {
				cfg.Forward.To = to
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			fwd, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			var t trigger.Trigger
			switch {
			case eventFile != "":
				if t, err = readEventFile(eventFile); err != nil {
					return err
				}
			case len(args) == 1:
				t = trigger.Trigger{MessageID: args[0], Destination: destination}
			default:
				return fmt.Errorf("either MESSAGE_ID or --event is required")
			}

			if t.Destination == "" {
				id, err := fwd.Forward(cmd.Context(), t.MessageID, cfg.Forward.To)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}

			out := fwd.Route(cmd.Context(), t)
			switch out.Status {
			case forwarder.StatusForwarded:
				fmt.Fprintln(cmd.OutOrStdout(), out.ForwardedID)
			case forwarder.StatusSkipped:
				fmt.Fprintf(cmd.OutOrStdout(), "skipped %s\n", t.Destination)
			default:
				return out.Err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "forward address, overrides FORWARD_TO_EMAIL")
	cmd.Flags().StringVar(&destination, "destination", "", "original recipient used for routing")
	cmd.Flags().StringVar(&eventFile, "event", "", "path to an SES receipt event JSON file")

	return cmd
}
