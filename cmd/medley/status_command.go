package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"medley/internal/api"
	"medley/internal/daemonctl"
	"medley/internal/media"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, supply, root, and player status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.client(), cfg)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, snap)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range daemonStatusLines(snap, colorize) {
				fmt.Fprintln(stdout, line)
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Roots", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range rootStatusLines(snap.Status.Roots, colorize) {
				fmt.Fprintln(stdout, line)
			}

			if snap.Online {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Supply", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Metric", "Value"},
					supplyRows(snap.Status.Supply),
					[]columnAlignment{alignLeft, alignRight},
				))

				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Player", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, playerStatusLine(snap.Status.Player, colorize))
			} else if len(snap.PlayCounts) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Recorded Plays", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Kind", "Plays"},
					playCountRows(snap.PlayCounts),
					[]columnAlignment{alignLeft, alignRight},
				))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit status as JSON")
	return cmd
}

func daemonStatusLines(snap *daemonctl.Snapshot, colorize bool) []string {
	lines := make([]string, 0, 4)
	switch {
	case snap.Online:
		detail := "Running"
		if snap.Status.PID > 0 {
			detail = fmt.Sprintf("Running (pid %d)", snap.Status.PID)
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, detail, colorize))
		if snap.Status.StartedAt != "" {
			lines = append(lines, renderStatusLine("Started", statusInfo, snap.Status.StartedAt, colorize))
		}
		if snap.Status.RootWatcher {
			lines = append(lines, renderStatusLine("Root watcher", statusOK, "Active", colorize))
		} else {
			lines = append(lines, renderStatusLine("Root watcher", statusWarn, "Periodic probes only", colorize))
		}
		if snap.Status.NetlinkMonitoring {
			lines = append(lines, renderStatusLine("Device events", statusOK, "Netlink monitoring active", colorize))
		} else {
			lines = append(lines, renderStatusLine("Device events", statusInfo, "Netlink unavailable", colorize))
		}
	case snap.Status.Running:
		lines = append(lines, renderStatusLine("Daemon", statusWarn,
			fmt.Sprintf("Process alive (pid %d) but API unreachable", snap.Status.PID), colorize))
	default:
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "Not running (start with `medley daemon`)", colorize))
	}
	return lines
}

func rootStatusLines(roots []api.RootStatus, colorize bool) []string {
	if len(roots) == 0 {
		return []string{renderStatusLine("Roots", statusWarn, "None configured", colorize)}
	}
	lines := make([]string, 0, len(roots))
	for _, root := range roots {
		kind := statusOK
		detail := "enabled"
		switch {
		case !root.Available:
			kind = statusError
			detail = "unavailable"
		case !root.Enabled:
			kind = statusInfo
			detail = "disabled"
		}
		if root.Available && root.TotalBytes > 0 {
			detail = fmt.Sprintf("%s, %s free", detail, formatBytes(root.FreeBytes))
		}
		lines = append(lines, renderStatusLine(root.Path, kind, detail, colorize))
	}
	return lines
}

func supplyRows(s api.SupplyStatus) [][]string {
	return [][]string{
		{"Ready", fmt.Sprintf("%d/%d", s.ReadyCount, s.ReadyCapacity)},
		{"Video queued", strconv.FormatInt(s.Counts.Video, 10)},
		{"Image queued", strconv.FormatInt(s.Counts.Image, 10)},
		{"Audio queued", strconv.FormatInt(s.Counts.Audio, 10)},
		{"Dedup entries", strconv.Itoa(s.DedupCount)},
	}
}

func playerStatusLine(p api.PlayerStatus, colorize bool) string {
	if !p.Running {
		return renderStatusLine("Player", statusInfo, "Stopped", colorize)
	}
	detail := p.State
	if p.Path != "" {
		detail = fmt.Sprintf("%s %s", p.State, filepath.Base(p.Path))
	}
	if p.Speed != "" && p.Speed != "1x" {
		detail = fmt.Sprintf("%s at %s", detail, p.Speed)
	}
	if p.PositionMS > 0 {
		detail = fmt.Sprintf("%s (%s)", detail, formatPosition(p.PositionMS))
	}
	kind := statusOK
	if p.State == "paused" {
		kind = statusWarn
	}
	return renderStatusLine("Player", kind, detail, colorize)
}

func playCountRows(counts map[media.Kind]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, kind := range []media.Kind{media.KindVideo, media.KindImage, media.KindAudio} {
		if count, ok := counts[kind]; ok {
			rows = append(rows, []string{string(kind), strconv.Itoa(count)})
		}
	}
	return rows
}
