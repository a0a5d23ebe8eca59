package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"queuectl/internal/handler"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long the dashboard waits for open requests.
const shutdownTimeout = 5 * time.Second

func dashboardCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve a read-only JSON view of the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetString("port")

			server := &http.Server{
				Addr:    ":" + port,
				Handler: handler.NewDashboardHandler(a.jobService, a.supervisor).Routes(),
			}

			// Graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			errCh := make(chan error, 1)
			go func() {
				log.Printf("dashboard listening on port %s", port)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-sigChan:
			}

			log.Println("shutting down dashboard...")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Printf("error closing server: %v", err)
			}
			log.Println("dashboard stopped")
			return nil
		},
	}
	cmd.Flags().String("port", "8080", "HTTP port")
	return cmd
}
