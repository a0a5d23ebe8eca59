package repository

import (
	"context"
	"errors"
	"fmt"
	"queuectl/internal/models"
	"time"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrConfigNotFound = errors.New("config key not found")
)

// JobRepository defines the interface for job persistence
type JobRepository interface {
	Enqueue(ctx context.Context, job *models.Job) error
	FindByID(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	ListByState(ctx context.Context, state models.JobState) ([]*models.Job, error)
	StatusSummary(ctx context.Context) (map[models.JobState]int, error)
	// ClaimNext returns nil, nil when there is nothing to claim or the race was lost.
	ClaimNext(ctx context.Context, now time.Time) (*models.Job, error)
}

// ConfigRepository defines the interface for the key-value config table
type ConfigRepository interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	ListConfig(ctx context.Context) (map[string]string, error)
}

// ErrDuplicateJobID is returned when a job with the same id already exists
type ErrDuplicateJobID struct {
	ID string
}

func (e *ErrDuplicateJobID) Error() string {
	return fmt.Sprintf("job with id %s already exists", e.ID)
}
