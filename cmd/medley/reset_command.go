package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"medley/internal/api"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Flush the supply and resample from scratch",
		Long: `Flush the ready queue and dedup cache, then let the feeder refill
from a fresh sampling pass. Playback in progress is not interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if _, err := client.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Supply reset")
				return nil
			})
		},
	}
}
