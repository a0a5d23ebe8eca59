package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"queuectl/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func pendingJob(id string, priority int, createdAt time.Time) *models.Job {
	return &models.Job{
		ID:                id,
		Command:           "echo " + id,
		State:             models.StatePending,
		Priority:          priority,
		Timeout:           models.DefaultTimeoutSeconds,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
		NextExecutionTime: createdAt,
	}
}

func TestSQLiteRepository_Enqueue(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	base := time.UnixMilli(1_700_000_000_000)

	t.Run("Should store and find a job", func(t *testing.T) {
		job := pendingJob("job-1", 3, base)
		job.MaxRetries = 5
		require.NoError(t, repo.Enqueue(ctx, job))

		found, err := repo.FindByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "echo job-1", found.Command)
		assert.Equal(t, models.StatePending, found.State)
		assert.Equal(t, 0, found.Attempts)
		assert.Equal(t, 5, found.MaxRetries)
		assert.Equal(t, 3, found.Priority)
		assert.Equal(t, models.DefaultTimeoutSeconds, found.Timeout)
		assert.True(t, base.Equal(found.CreatedAt))
	})

	t.Run("Should reject a duplicate id and keep the original row", func(t *testing.T) {
		dup := pendingJob("job-1", 9, base.Add(time.Hour))
		dup.Command = "rm -rf /tmp/nothing"

		err := repo.Enqueue(ctx, dup)
		var dupErr *ErrDuplicateJobID
		require.ErrorAs(t, err, &dupErr)
		assert.Equal(t, "job-1", dupErr.ID)

		found, err := repo.FindByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "echo job-1", found.Command)
		assert.Equal(t, 3, found.Priority)
	})

	t.Run("Should report a missing job", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestSQLiteRepository_ClaimNextOrdering(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	t1 := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, repo.Enqueue(ctx, pendingJob("A", 5, t1)))
	require.NoError(t, repo.Enqueue(ctx, pendingJob("B", 5, t1.Add(time.Second))))
	require.NoError(t, repo.Enqueue(ctx, pendingJob("C", 9, t1.Add(2*time.Second))))

	now := t1.Add(time.Minute)
	var order []string
	for i := 0; i < 3; i++ {
		job, err := repo.ClaimNext(ctx, now)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, models.StateProcessing, job.State)
		assert.Equal(t, 1, job.Attempts)
		order = append(order, job.ID)
	}
	assert.Equal(t, []string{"C", "A", "B"}, order)

	job, err := repo.ClaimNext(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSQLiteRepository_ClaimNextPersistsClaim(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	created := time.UnixMilli(1_700_000_000_000)
	now := created.Add(10 * time.Second)

	require.NoError(t, repo.Enqueue(ctx, pendingJob("job-1", 0, created)))

	claimed, err := repo.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	stored, err := repo.FindByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateProcessing, stored.State)
	assert.Equal(t, 1, stored.Attempts)
	assert.True(t, now.Equal(stored.UpdatedAt))
}

func TestSQLiteRepository_ClaimNextAtMostOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Now()

	require.NoError(t, repo.Enqueue(ctx, pendingJob("contended", 0, now.Add(-time.Second))))

	const claimers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := repo.ClaimNext(ctx, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if job != nil {
				winners++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, winners)

	stored, err := repo.FindByID(ctx, "contended")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
}

func TestSQLiteRepository_ClaimNextEligibilityWindow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	created := time.UnixMilli(1_700_000_000_000)
	retryAt := created.Add(30 * time.Second)

	job := pendingJob("retry", 0, created)
	job.State = models.StateFailed
	job.Attempts = 1
	job.NextExecutionTime = retryAt
	require.NoError(t, repo.Enqueue(ctx, job))

	claimed, err := repo.ClaimNext(ctx, retryAt.Add(-time.Millisecond))
	require.NoError(t, err)
	assert.Nil(t, claimed, "failed job must not be claimed before its next execution time")

	claimed, err = repo.ClaimNext(ctx, retryAt)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "retry", claimed.ID)
	assert.Equal(t, 2, claimed.Attempts)
}

func TestSQLiteRepository_ClaimNextIgnoresPendingNextExecutionTime(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.UnixMilli(1_700_000_000_000)

	job := pendingJob("pending", 0, now)
	job.NextExecutionTime = now.Add(time.Hour)
	require.NoError(t, repo.Enqueue(ctx, job))

	claimed, err := repo.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "pending", claimed.ID)
}

func TestSQLiteRepository_ClaimNextSkipsTerminalJobs(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	past := time.UnixMilli(1_600_000_000_000)

	for _, state := range []models.JobState{models.StateCompleted, models.StateDead, models.StateProcessing} {
		job := pendingJob(string(state), 100, past)
		job.State = state
		job.NextExecutionTime = past
		require.NoError(t, repo.Enqueue(ctx, job))
	}

	claimed, err := repo.ClaimNext(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestSQLiteRepository_UpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	created := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, repo.Enqueue(ctx, pendingJob("job-1", 0, created)))

	job, err := repo.FindByID(ctx, "job-1")
	require.NoError(t, err)
	job.State = models.StateFailed
	job.Attempts = 2
	job.UpdatedAt = created.Add(time.Minute)
	job.NextExecutionTime = created.Add(2 * time.Minute)
	job.Output = "boom"

	require.NoError(t, repo.Update(ctx, job))
	first, err := repo.FindByID(ctx, "job-1")
	require.NoError(t, err)

	require.NoError(t, repo.Update(ctx, job))
	second, err := repo.FindByID(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, models.StateFailed, second.State)
	assert.Equal(t, "boom", second.Output)

	err = repo.Update(ctx, &models.Job{ID: "missing", State: models.StatePending})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSQLiteRepository_ListByStateAndSummary(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	base := time.UnixMilli(1_700_000_000_000)

	// inserted newest first to prove ordering comes from created_at
	for i := 3; i >= 1; i-- {
		require.NoError(t, repo.Enqueue(ctx, pendingJob(fmt.Sprintf("p%d", i), 0, base.Add(time.Duration(i)*time.Second))))
	}
	dead := pendingJob("d1", 0, base)
	dead.State = models.StateDead
	require.NoError(t, repo.Enqueue(ctx, dead))

	pending, err := repo.ListByState(ctx, models.StatePending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "p1", pending[0].ID)
	assert.Equal(t, "p3", pending[2].ID)

	completed, err := repo.ListByState(ctx, models.StateCompleted)
	require.NoError(t, err)
	assert.Empty(t, completed)

	summary, err := repo.StatusSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.JobState]int{
		models.StatePending:    3,
		models.StateProcessing: 0,
		models.StateFailed:     0,
		models.StateCompleted:  0,
		models.StateDead:       1,
	}, summary)
}

func TestSQLiteRepository_Config(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.GetConfig(ctx, "max-retries")
	assert.ErrorIs(t, err, ErrConfigNotFound)

	require.NoError(t, repo.SetConfig(ctx, "max-retries", "4"))
	require.NoError(t, repo.SetConfig(ctx, "max-retries", "6"))
	require.NoError(t, repo.SetConfig(ctx, "backoff-base", "3"))

	value, err := repo.GetConfig(ctx, "max-retries")
	require.NoError(t, err)
	assert.Equal(t, "6", value)

	all, err := repo.ListConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"max-retries": "6", "backoff-base": "3"}, all)
}

func TestSQLiteRepository_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(ctx, pendingJob("kept", 0, time.Now())))
	require.NoError(t, repo.Close())

	reopened, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	job, err := reopened.FindByID(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, "kept", job.ID)
}
