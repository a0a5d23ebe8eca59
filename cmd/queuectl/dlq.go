package main

import (
	"fmt"
	"queuectl/internal/models"

	"github.com/spf13/cobra"
)

func dlqCmd(a *app) *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and requeue dead-lettered jobs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all jobs in the DLQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJobs(cmd, a, models.StateDead)
		},
	}

	retry := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a dead job back to PENDING with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.jobService.RetryDeadJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s moved from DLQ to %s\n", job.ID, job.State)
			return nil
		},
	}

	dlq.AddCommand(list, retry)
	return dlq
}
