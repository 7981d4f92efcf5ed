package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"clipstream/internal/server"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List active download jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := ctx.client()
			if err != nil {
				return err
			}
			var resp server.DownloadsResponse
			if err := api.getJSON("/api/downloads", &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(out, "No active jobs.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				state := "running"
				if job.Cancelled {
					state = "cancelled"
				}
				rows = append(rows, []string{
					job.JobID,
					truncate(job.URL, 60),
					state,
					formatElapsed(job.ElapsedMs),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"JOB", "URL", "STATE", "ELAPSED"},
				rows,
				3,
			))
			return nil
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := ctx.client()
			if err != nil {
				return err
			}
			if err := api.postJSON("/api/cancel/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", args[0])
			return nil
		},
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func formatElapsed(ms int64) string {
	return time.Duration(ms * int64(time.Millisecond)).Round(time.Second).String()
}
