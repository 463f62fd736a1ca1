package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"medley/internal/api"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent plays",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				if len(resp.Plays) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No plays recorded")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Started", "Kind", "Outcome", "Path"},
					buildHistoryRows(resp.Plays),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of plays to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit history as JSON")
	return cmd
}

func buildHistoryRows(plays []api.Play) [][]string {
	rows := make([][]string, 0, len(plays))
	for _, play := range plays {
		outcome := play.Outcome
		if outcome == "" {
			outcome = "playing"
		}
		rows = append(rows, []string{
			strconv.FormatInt(play.ID, 10),
			play.StartedAt,
			play.Kind,
			outcome,
			play.Path,
		})
	}
	return rows
}
