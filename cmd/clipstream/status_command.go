package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clipstream/internal/server"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := ctx.client()
			if err != nil {
				return err
			}
			var health server.HealthResponse
			if err := api.getJSON("/api/health", &health); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon: %s (%d active jobs)\n", health.Status, health.ActiveJobs)
			if len(health.Dependencies) == 0 {
				return nil
			}

			rows := make([][]string, 0, len(health.Dependencies))
			for _, dep := range health.Dependencies {
				state := "missing"
				if dep.Available {
					state = "ok"
				}
				detail := dep.Version
				if detail == "" {
					detail = dep.Detail
				}
				rows = append(rows, []string{dep.Name, state, dep.Command, detail})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"DEPENDENCY", "STATE", "COMMAND", "DETAIL"},
				rows,
			))
			return nil
		},
	}
}

func newInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info <url>",
		Short: "Fetch media metadata for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := ctx.client()
			if err != nil {
				return err
			}
			var info server.InfoResponse
			if err := api.getJSON("/api/info?url="+queryEscape(args[0]), &info); err != nil {
				return err
			}

			rows := [][]string{
				{"Title", info.Title},
				{"Uploader", info.Uploader},
				{"Duration", fmt.Sprintf("%.0fs", info.Duration)},
			}
			if info.IsPlaylist {
				rows = append(rows, []string{"Playlist entries", fmt.Sprintf("%d", info.PlaylistCount)})
			}
			if info.EstimatedBytes > 0 {
				rows = append(rows, []string{"Estimated size", formatBytes(info.EstimatedBytes)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"FIELD", "VALUE"},
				rows,
			))
			return nil
		},
	}
}
