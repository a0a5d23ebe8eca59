package main

import (
	"queuectl/internal/config"
	"queuectl/internal/logsink"
	"queuectl/internal/metrics"
	"queuectl/internal/registry"
	"queuectl/internal/repository"
	"queuectl/internal/service"

	"github.com/spf13/cobra"
)

// app is the object graph shared by every command
type app struct {
	cfg        *config.Config
	metrics    *metrics.Metrics
	jobService *service.JobService
	sink       *logsink.Sink
	supervisor *service.Supervisor
}

func newApp(cfg *config.Config, repo *repository.SQLiteRepository) *app {
	m := metrics.NewMetrics()
	sink := logsink.New(cfg.LogDir)
	settings := service.NewSettings(repo)
	pids := registry.NewPIDFile(cfg.PIDFile)

	return &app{
		cfg:        cfg,
		metrics:    m,
		jobService: service.NewJobService(repo, repo, m),
		sink:       sink,
		supervisor: service.NewSupervisor(repo, settings, sink, m, pids),
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "queuectl",
		Short:        "A single-host background job queue for shell commands",
		SilenceUsage: true,
	}

	root.AddCommand(
		enqueueCmd(a),
		listCmd(a),
		statusCmd(a),
		infoCmd(a),
		logsCmd(a),
		dlqCmd(a),
		configCmd(a),
		workerCmd(a),
		dashboardCmd(a),
	)
	return root
}
