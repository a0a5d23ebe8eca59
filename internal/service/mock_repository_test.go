package service

import (
	"context"
	"errors"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"sort"
	"sync"
	"time"
)

// mockRepository is an in-memory JobRepository and ConfigRepository.
// Jobs are copied in and out so callers never share state with the store.
type mockRepository struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	config map[string]string

	claimError  error
	updateError error
	configError error
	updates     int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		jobs:   make(map[string]*models.Job),
		config: make(map[string]string),
	}
}

func (m *mockRepository) put(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
}

func (m *mockRepository) get(id string) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

func (m *mockRepository) Enqueue(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return &repository.ErrDuplicateJobID{ID: job.ID}
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockRepository) FindByID(ctx context.Context, id string) (*models.Job, error) {
	if job := m.get(id); job != nil {
		return job, nil
	}
	return nil, repository.ErrJobNotFound
}

func (m *mockRepository) Update(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateError != nil {
		return m.updateError
	}
	if _, exists := m.jobs[job.ID]; !exists {
		return repository.ErrJobNotFound
	}
	cp := *job
	m.jobs[job.ID] = &cp
	m.updates++
	return nil
}

func (m *mockRepository) ListByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Job
	for _, job := range m.jobs {
		if job.State == state {
			cp := *job
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *mockRepository) StatusSummary(ctx context.Context) (map[models.JobState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := make(map[models.JobState]int)
	for _, state := range models.AllStates {
		summary[state] = 0
	}
	for _, job := range m.jobs {
		summary[job.State]++
	}
	return summary, nil
}

func (m *mockRepository) ClaimNext(ctx context.Context, now time.Time) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimError != nil {
		return nil, m.claimError
	}

	var best *models.Job
	for _, job := range m.jobs {
		eligible := job.State == models.StatePending ||
			(job.State == models.StateFailed && !job.NextExecutionTime.After(now))
		if !eligible {
			continue
		}
		if best == nil || job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = models.StateProcessing
	best.Attempts++
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

func (m *mockRepository) GetConfig(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configError != nil {
		return "", m.configError
	}
	value, ok := m.config[key]
	if !ok {
		return "", repository.ErrConfigNotFound
	}
	return value, nil
}

func (m *mockRepository) SetConfig(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configError != nil {
		return m.configError
	}
	m.config[key] = value
	return nil
}

func (m *mockRepository) ListConfig(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configError != nil {
		return nil, m.configError
	}
	values := make(map[string]string, len(m.config))
	for k, v := range m.config {
		values[k] = v
	}
	return values, nil
}

var errStorage = errors.New("disk I/O error")
