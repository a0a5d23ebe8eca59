package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"queuectl/internal/logsink"
	"queuectl/internal/models"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func listCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("state")
			state, err := models.ParseState(raw)
			if err != nil {
				return err
			}
			return printJobs(cmd, a, state)
		},
	}
	cmd.Flags().String("state", "", "Filter jobs by state (pending, processing, failed, completed, dead)")
	cmd.MarkFlagRequired("state")
	return cmd
}

// printJobs is shared by `list` and `dlq list`.
func printJobs(cmd *cobra.Command, a *app, state models.JobState) error {
	jobs, err := a.jobService.ListJobsByState(cmd.Context(), state)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintf(out, "No jobs found in state %s\n", state)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRIORITY\tATTEMPTS\tUPDATED\tCOMMAND")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			job.ID, job.Priority, job.Attempts, job.UpdatedAt.Format(time.RFC3339), job.Command)
	}
	return tw.Flush()
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts per state and whether workers are running",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := a.jobService.StatusSummary(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "--- Job Queue Status ---")
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, state := range models.AllStates {
				fmt.Fprintf(tw, "%s:\t%d\n", state, summary[state])
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintln(out, "\n--- Worker Status ---")
			return printPoolStatus(out, a)
		},
	}
}

func printPoolStatus(out io.Writer, a *app) error {
	pid, running, err := a.supervisor.Running()
	if err != nil {
		return err
	}
	if !running {
		fmt.Fprintln(out, "Workers: stopped")
		return nil
	}
	fmt.Fprintf(out, "Workers: running (pid %d)\n", pid)
	return nil
}

func infoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <job-id>",
		Short: "Show every field of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.jobService.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}
}

func logsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print the execution log of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := a.sink.Read(args[0])
			if err != nil {
				if errors.Is(err, logsink.ErrNoLogs) {
					fmt.Fprintf(cmd.OutOrStdout(), "No logs found for job %s\n", args[0])
					return nil
				}
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
