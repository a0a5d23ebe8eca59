package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"queuectl/internal/logsink"
	"queuectl/internal/metrics"
	"queuectl/internal/repository"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultGracePeriod = 30 * time.Second

	defaultStopPollInterval = 500 * time.Millisecond
	defaultStopPollAttempts = 10
)

var (
	ErrNoPool      = errors.New("no worker pool is running")
	ErrStopTimeout = errors.New("worker pool did not stop in time")

	errPoolStillRunning = errors.New("worker pool still running")
)

// ErrPoolRunning is returned by Start when another pool is alive
type ErrPoolRunning struct {
	PID int
}

func (e *ErrPoolRunning) Error() string {
	return fmt.Sprintf("worker pool already running with pid %d", e.PID)
}

// PoolRegistry records which process runs the pool; a published id means running.
type PoolRegistry interface {
	Publish(pid int) error
	CurrentID() (int, bool, error)
	Clear() error
}

// Supervisor owns the executors of one worker pool and its start/stop lifecycle
type Supervisor struct {
	repo     repository.JobRepository
	settings *Settings
	sink     *logsink.Sink
	metrics  *metrics.Metrics
	registry PoolRegistry

	gracePeriod      time.Duration
	pollInterval     time.Duration
	stopPollInterval time.Duration
	stopPollAttempts uint64

	pid       int
	alive     func(pid int) bool
	interrupt func(pid int) error
}

// NewSupervisor creates a new supervisor
func NewSupervisor(repo repository.JobRepository, settings *Settings, sink *logsink.Sink, metrics *metrics.Metrics, registry PoolRegistry) *Supervisor {
	return &Supervisor{
		repo:             repo,
		settings:         settings,
		sink:             sink,
		metrics:          metrics,
		registry:         registry,
		gracePeriod:      DefaultGracePeriod,
		pollInterval:     defaultPollInterval,
		stopPollInterval: defaultStopPollInterval,
		stopPollAttempts: defaultStopPollAttempts,
		pid:              os.Getpid(),
		alive:            processAlive,
		interrupt:        interruptProcess,
	}
}

// SetGracePeriod sets how long shutdown waits for in-flight jobs before killing them
func (s *Supervisor) SetGracePeriod(d time.Duration) {
	s.gracePeriod = d
}

// Running reports the pid of the live pool, if any
func (s *Supervisor) Running() (int, bool, error) {
	pid, ok, err := s.registry.CurrentID()
	if err != nil || !ok {
		return 0, false, err
	}
	if !s.alive(pid) {
		return 0, false, nil
	}
	return pid, true, nil
}

// Start runs n executors and blocks until ctx is cancelled, then shuts the
// pool down: executors stop at their next loop boundary, and commands still
// running after the grace period are killed.
func (s *Supervisor) Start(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", n)
	}

	if err := s.publish(); err != nil {
		return err
	}
	defer func() {
		if err := s.registry.Clear(); err != nil {
			log.Printf("error clearing pool registry: %v", err)
		}
	}()

	kill := make(chan struct{})
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		executor := NewExecutor(i, s.repo, s.settings, s.sink, s.metrics)
		executor.pollInterval = s.pollInterval

		wg.Add(1)
		go func() {
			defer wg.Done()
			executor.Run(ctx, kill)
		}()
	}
	log.Printf("worker pool started with %d workers, pid=%d", n, s.pid)

	<-ctx.Done()
	log.Printf("shutting down worker pool, waiting up to %s for running jobs...", s.gracePeriod)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.gracePeriod)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		log.Printf("grace period expired, terminating running jobs")
		close(kill)
		<-done
	}

	log.Println("worker pool stopped")
	return nil
}

func (s *Supervisor) publish() error {
	pid, ok, err := s.registry.CurrentID()
	if err != nil {
		return fmt.Errorf("failed to read pool registry: %w", err)
	}
	if ok {
		if s.alive(pid) {
			return &ErrPoolRunning{PID: pid}
		}
		log.Printf("clearing stale worker pool pid %d", pid)
		if err := s.registry.Clear(); err != nil {
			return fmt.Errorf("failed to clear stale pool registry: %w", err)
		}
	}

	if err := s.registry.Publish(s.pid); err != nil {
		return fmt.Errorf("failed to publish pool registry: %w", err)
	}
	return nil
}

// Stop interrupts the running pool and waits for it to clear its registry entry
func (s *Supervisor) Stop(ctx context.Context) error {
	pid, ok, err := s.registry.CurrentID()
	if err != nil {
		return fmt.Errorf("failed to read pool registry: %w", err)
	}
	if !ok {
		return ErrNoPool
	}
	if !s.alive(pid) {
		log.Printf("clearing stale worker pool pid %d", pid)
		if err := s.registry.Clear(); err != nil {
			return fmt.Errorf("failed to clear stale pool registry: %w", err)
		}
		return ErrNoPool
	}

	if err := s.interrupt(pid); err != nil {
		return fmt.Errorf("failed to signal worker pool %d: %w", pid, err)
	}
	log.Printf("sent stop signal to worker pool pid=%d", pid)

	waitCleared := func() error {
		_, ok, err := s.registry.CurrentID()
		if err != nil {
			return backoff.Permanent(err)
		}
		if ok {
			return errPoolStillRunning
		}
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.stopPollInterval), s.stopPollAttempts),
		ctx,
	)
	if err := backoff.Retry(waitCleared, b); err != nil {
		if errors.Is(err, errPoolStillRunning) {
			return ErrStopTimeout
		}
		return fmt.Errorf("failed waiting for worker pool to stop: %w", err)
	}
	return nil
}
