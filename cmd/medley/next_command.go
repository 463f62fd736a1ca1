package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"medley/internal/api"
)

func newNextCommand(ctx *commandContext) *cobra.Command {
	var kinds []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Withdraw the next ready item from the supply",
		Long: `Withdraw the next ready item and print its path.

The daemon hands over the item exactly once; the warmed engine is released
so an external player can open the file itself. Use --kinds to restrict the
withdrawal to particular media kinds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				item, err := client.Next(cmd.Context(), kinds...)
				if errors.Is(err, api.ErrNoItem) {
					return errors.New("no item became ready in time")
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, item)
				}
				fmt.Fprintln(cmd.OutOrStdout(), item.Path)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kinds", nil, "Restrict withdrawal to these media kinds (video, image, audio)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the item as JSON")
	return cmd
}
