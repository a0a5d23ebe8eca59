package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"queuectl/internal/service"
	"syscall"

	"github.com/spf13/cobra"
)

func workerCmd(a *app) *cobra.Command {
	worker := &cobra.Command{
		Use:   "worker",
		Short: "Start or stop the worker pool",
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Run a pool of workers in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			grace, _ := cmd.Flags().GetDuration("grace")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Handle graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case sig := <-sigChan:
					log.Printf("received %v, shutting down workers...", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			if metricsAddr != "" {
				if err := a.metrics.RegisterQueueDepth(queueDepth(a)); err != nil {
					return fmt.Errorf("failed to register queue depth metric: %w", err)
				}
				server := &http.Server{
					Addr:    metricsAddr,
					Handler: metricsMux(a),
				}
				go func() {
					log.Printf("metrics server listening on %s", metricsAddr)
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Printf("metrics server error: %v", err)
					}
				}()
				defer server.Close()
			}

			a.supervisor.SetGracePeriod(grace)
			if err := a.supervisor.Start(ctx, count); err != nil {
				var running *service.ErrPoolRunning
				if errors.As(err, &running) {
					return fmt.Errorf("workers are already running (pid %d); use `queuectl worker stop` first", running.PID)
				}
				return err
			}
			return nil
		},
	}
	start.Flags().Int("count", 1, "Number of workers to start")
	start.Flags().Duration("grace", service.DefaultGracePeriod, "How long to wait for running jobs on shutdown before killing them")
	start.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Signal the running worker pool to shut down and wait for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.supervisor.Stop(cmd.Context())
			switch {
			case errors.Is(err, service.ErrNoPool):
				fmt.Fprintln(cmd.OutOrStdout(), "No worker pool is running.")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Worker pool stopped.")
			return nil
		},
	}

	worker.AddCommand(start, stop)
	return worker
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

func queueDepth(a *app) func() (map[string]int, error) {
	return func() (map[string]int, error) {
		summary, err := a.jobService.StatusSummary(context.Background())
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int, len(summary))
		for state, n := range summary {
			counts[string(state)] = n
		}
		return counts, nil
	}
}
