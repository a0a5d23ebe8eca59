package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"queuectl/internal/models"
	"queuectl/internal/repository"

	"github.com/spf13/cobra"
)

func enqueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job-json>",
		Short: "Add a job to the queue",
		Example: `  queuectl enqueue '{"id":"job1","command":"sleep 2"}'
  queuectl enqueue '{"command":"make build","priority":5,"timeout":600,"max_retries":2}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req models.EnqueueRequest
			if err := json.Unmarshal([]byte(args[0]), &req); err != nil {
				return fmt.Errorf("invalid job JSON: %w", err)
			}

			job, err := a.jobService.Enqueue(cmd.Context(), &req)
			if err != nil {
				var dupErr *repository.ErrDuplicateJobID
				if errors.As(err, &dupErr) {
					return fmt.Errorf("job %s already exists", dupErr.ID)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s\n", job.ID)
			return nil
		},
	}
}
