package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"medley/internal/api"
)

func newRootsCommand(ctx *commandContext) *cobra.Command {
	rootsCmd := &cobra.Command{
		Use:   "roots",
		Short: "Inspect and manage media roots",
	}

	rootsCmd.AddCommand(newRootsListCommand(ctx))
	rootsCmd.AddCommand(newRootsEnableCommand(ctx))
	rootsCmd.AddCommand(newRootsDisableCommand(ctx))
	rootsCmd.AddCommand(newRootsAddCommand(ctx))

	return rootsCmd
}

func newRootsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List media roots with health details",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Roots(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				printRootsTable(cmd, resp.Roots)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit roots as JSON")
	return cmd
}

func newRootsEnableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <path>",
		Short: "Return a disabled root to sampling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return patchRoots(ctx, cmd, api.RootsPatch{Enable: args}, fmt.Sprintf("Enabled %s", args[0]))
		},
	}
}

func newRootsDisableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <path>",
		Short: "Exclude a root from sampling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return patchRoots(ctx, cmd, api.RootsPatch{Disable: args}, fmt.Sprintf("Disabled %s", args[0]))
		},
	}
}

func newRootsAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>",
		Short: "Register a new media root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return patchRoots(ctx, cmd, api.RootsPatch{Add: args}, fmt.Sprintf("Added %s", args[0]))
		},
	}
}

func patchRoots(ctx *commandContext, cmd *cobra.Command, patch api.RootsPatch, message string) error {
	return ctx.withClient(func(client *api.Client) error {
		resp, err := client.PatchRoots(cmd.Context(), patch)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), message)
		printRootsTable(cmd, resp.Roots)
		return nil
	})
}

func printRootsTable(cmd *cobra.Command, roots []api.RootStatus) {
	out := cmd.OutOrStdout()
	if len(roots) == 0 {
		fmt.Fprintln(out, "No roots configured")
		return
	}
	rows := make([][]string, 0, len(roots))
	for _, root := range roots {
		free := "-"
		if root.TotalBytes > 0 {
			free = formatBytes(root.FreeBytes)
		}
		rows = append(rows, []string{root.Path, yesNo(root.Enabled), yesNo(root.Available), free})
	}
	table := renderTable(
		[]string{"Path", "Enabled", "Available", "Free"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	)
	fmt.Fprint(out, table)
}
