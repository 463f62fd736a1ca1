package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"medley/internal/api"
)

func newPlayerCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	playerCmd := &cobra.Command{
		Use:   "player",
		Short: "Inspect and control the built-in player",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Player(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				fmt.Fprintln(stdout, playerStatusLine(*status, colorize))
				if status.Path != "" {
					fmt.Fprintln(stdout, renderStatusLine("Path", statusInfo, status.Path, colorize))
				}
				return nil
			})
		},
	}
	playerCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit player state as JSON")

	playerCmd.AddCommand(newPlayerPauseCommand(ctx))
	playerCmd.AddCommand(newPlayerResumeCommand(ctx))
	playerCmd.AddCommand(newPlayerSkipCommand(ctx))
	playerCmd.AddCommand(newPlayerNextCommand(ctx))
	playerCmd.AddCommand(newPlayerSpeedCommand(ctx))

	return playerCmd
}

func newPlayerPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause playback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if _, err := client.PlayerPause(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Playback paused")
				return nil
			})
		},
	}
}

func newPlayerResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume paused playback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if _, err := client.PlayerResume(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Playback resumed")
				return nil
			})
		},
	}
}

func newPlayerSkipCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Stop the current item and play the next one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if _, err := client.PlayerSkip(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Skipped to the next item")
				return nil
			})
		},
	}
}

func newPlayerNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Start playback, or skip if already playing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.PlayerNext(cmd.Context())
				if err != nil {
					return err
				}
				message := "Skipped to the next item"
				if resp.Status == "started" {
					message = "Player started"
				}
				fmt.Fprintln(cmd.OutOrStdout(), message)
				return nil
			})
		},
	}
}

func newPlayerSpeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "speed <rate>",
		Short: "Set playback speed",
		Long: `Set playback speed to an absolute rate or step it relative to the
current one.

Absolute rates are 0.5x, 1x, 2x, 4x, 8x, 16x, and 32x. The words "faster"
and "slower" move one step up or down from the current rate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.PlayerSpeed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Playback speed %s\n", resp.Speed)
				return nil
			})
		},
	}
}
