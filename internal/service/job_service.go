package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"queuectl/internal/logsink"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrInvalidJob         = errors.New("invalid job")
	ErrJobNotDead         = errors.New("job is not in the dead letter queue")
	ErrUnknownConfigKey   = errors.New("unknown config key")
	ErrInvalidConfigValue = errors.New("config value must be a positive integer")
)

// JobService handles enqueue, inspection and operator actions on jobs
type JobService struct {
	repo    repository.JobRepository
	config  repository.ConfigRepository
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewJobService creates a new job service
func NewJobService(repo repository.JobRepository, config repository.ConfigRepository, metrics *metrics.Metrics) *JobService {
	return &JobService{
		repo:    repo,
		config:  config,
		metrics: metrics,
		now:     time.Now,
	}
}

// Enqueue validates a request and stores it as a new PENDING job
func (s *JobService) Enqueue(ctx context.Context, req *models.EnqueueRequest) (*models.Job, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidJob)
	}
	if req.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max_retries must not be negative", ErrInvalidJob)
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.New().String()
	}
	if err := logsink.ValidateJobID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = models.DefaultTimeoutSeconds
	}

	now := s.now()
	job := &models.Job{
		ID:                id,
		Command:           req.Command,
		State:             models.StatePending,
		Attempts:          0,
		MaxRetries:        req.MaxRetries,
		Priority:          req.Priority,
		Timeout:           timeout,
		CreatedAt:         now,
		UpdatedAt:         now,
		NextExecutionTime: now,
	}

	if err := s.repo.Enqueue(ctx, job); err != nil {
		var dupErr *repository.ErrDuplicateJobID
		if errors.As(err, &dupErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.metrics.IncrementTotalJobs()
	log.Printf("job_id=%s: job enqueued, priority=%d, command=%s", job.ID, job.Priority, job.Command)

	return job, nil
}

// GetJob retrieves a job by ID
func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobsByState retrieves jobs in a state, oldest first
func (s *JobService) ListJobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	jobs, err := s.repo.ListByState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// StatusSummary returns job counts for every state
func (s *JobService) StatusSummary(ctx context.Context) (map[models.JobState]int, error) {
	summary, err := s.repo.StatusSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get status summary: %w", err)
	}
	return summary, nil
}

// RetryDeadJob moves a DEAD job back to PENDING with a fresh retry budget
func (s *JobService) RetryDeadJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != models.StateDead {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotDead, id, job.State)
	}

	now := s.now()
	job.State = models.StatePending
	job.Attempts = 0
	job.NextExecutionTime = now
	job.UpdatedAt = now

	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}

	log.Printf("job_id=%s: job moved from dead letter queue to PENDING", job.ID)
	return job, nil
}

func isKnownConfigKey(key string) bool {
	for _, k := range KnownConfigKeys {
		if k == key {
			return true
		}
	}
	return false
}

func defaultConfigValue(key string) string {
	switch key {
	case KeyMaxRetries:
		return strconv.Itoa(DefaultMaxRetries)
	case KeyBackoffBase:
		return strconv.Itoa(DefaultBackoffBase)
	}
	return ""
}

// SetConfig validates and stores a config value
func (s *JobService) SetConfig(ctx context.Context, key, value string) error {
	if !isKnownConfigKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fmt.Errorf("%w: %s=%q", ErrInvalidConfigValue, key, value)
	}

	if err := s.config.SetConfig(ctx, key, strconv.Itoa(n)); err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}
	log.Printf("config %s set to %d", key, n)
	return nil
}

// GetConfig returns the effective value of a config key, falling back to its default
func (s *JobService) GetConfig(ctx context.Context, key string) (string, error) {
	if !isKnownConfigKey(key) {
		return "", fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
	}
	value, err := s.config.GetConfig(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrConfigNotFound) {
			return defaultConfigValue(key), nil
		}
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

// ListConfig returns the effective value of every known config key
func (s *JobService) ListConfig(ctx context.Context) (map[string]string, error) {
	stored, err := s.config.ListConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}

	values := make(map[string]string, len(KnownConfigKeys))
	for _, key := range KnownConfigKeys {
		if v, ok := stored[key]; ok {
			values[key] = v
		} else {
			values[key] = defaultConfigValue(key)
		}
	}
	return values, nil
}
