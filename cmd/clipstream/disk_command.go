package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clipstream/internal/diskspace"
)

func newDiskCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "disk",
		Short: "Show download directory usage and quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := ctx.client()
			if err != nil {
				return err
			}
			var stats diskspace.Stats
			if err := api.getJSON("/api/disk-stats", &stats); err != nil {
				return err
			}

			rows := [][]string{
				{"Used", formatBytes(stats.UsedBytes)},
				{"Available", formatBytes(stats.AvailableBytes)},
				{"Quota", formatBytes(stats.QuotaBytes)},
				{"Used %", fmt.Sprintf("%d%%", stats.PercentUsed)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"METRIC", "VALUE"},
				rows,
				1,
			))
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
