package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"queuectl/internal/models"
	"queuectl/internal/repository/migrations"
	"sync"
	"time"

	"github.com/georgysavva/scany/sqlscan"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

const jobColumns = `id, command, state, attempts, max_retries, priority, timeout,
	created_at, updated_at, next_execution_time, output`

// goose keeps its settings in package globals.
var migrateMu sync.Mutex

// SQLiteRepository implements JobRepository and ConfigRepository using SQLite
type SQLiteRepository struct {
	db *sql.DB
}

// jobRow is the persisted shape of a job; timestamps are epoch milliseconds.
type jobRow struct {
	ID                string `db:"id"`
	Command           string `db:"command"`
	State             string `db:"state"`
	Attempts          int    `db:"attempts"`
	MaxRetries        int    `db:"max_retries"`
	Priority          int    `db:"priority"`
	Timeout           int    `db:"timeout"`
	CreatedAt         int64  `db:"created_at"`
	UpdatedAt         int64  `db:"updated_at"`
	NextExecutionTime int64  `db:"next_execution_time"`
	Output            string `db:"output"`
}

func (r jobRow) toModel() *models.Job {
	return &models.Job{
		ID:                r.ID,
		Command:           r.Command,
		State:             models.JobState(r.State),
		Attempts:          r.Attempts,
		MaxRetries:        r.MaxRetries,
		Priority:          r.Priority,
		Timeout:           r.Timeout,
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
		NextExecutionTime: fromMillis(r.NextExecutionTime),
		Output:            r.Output,
	}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// NewSQLiteRepository opens the database and brings the schema up to date
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	// _txlock=immediate makes BEGIN take the write lock, so the claim's
	// read and conditional write cannot interleave with another claim.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) migrate() error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	// Every CLI invocation migrates; keep goose quiet about it.
	goose.SetLogger(log.New(io.Discard, "", 0))
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(r.db, ".")
}

// Enqueue inserts a new job
func (r *SQLiteRepository) Enqueue(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Command,
		job.State,
		job.Attempts,
		job.MaxRetries,
		job.Priority,
		job.Timeout,
		toMillis(job.CreatedAt),
		toMillis(job.UpdatedAt),
		toMillis(job.NextExecutionTime),
		job.Output,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return &ErrDuplicateJobID{ID: job.ID}
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// FindByID retrieves a job by ID
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	var row jobRow
	if err := sqlscan.Get(ctx, r.db, &row, query, id); err != nil {
		if sqlscan.NotFound(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toModel(), nil
}

// Update overwrites the mutable fields of a job; last writer wins
func (r *SQLiteRepository) Update(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs
		SET state = ?,
		    attempts = ?,
		    updated_at = ?,
		    next_execution_time = ?,
		    output = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		job.State,
		job.Attempts,
		toMillis(job.UpdatedAt),
		toMillis(job.NextExecutionTime),
		job.Output,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}

	return nil
}

// ListByState retrieves all jobs in a state, oldest first
func (r *SQLiteRepository) ListByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE state = ?
		ORDER BY created_at ASC
	`

	var rows []jobRow
	if err := sqlscan.Select(ctx, r.db, &rows, query, state); err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toModel())
	}

	return jobs, nil
}

// StatusSummary returns the number of jobs per state, including empty states
func (r *SQLiteRepository) StatusSummary(ctx context.Context) (map[models.JobState]int, error) {
	query := `SELECT state, COUNT(*) AS count FROM jobs GROUP BY state`

	var counts []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}
	if err := sqlscan.Select(ctx, r.db, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	summary := make(map[models.JobState]int, len(models.AllStates))
	for _, state := range models.AllStates {
		summary[state] = 0
	}
	for _, c := range counts {
		summary[models.JobState(c.State)] = c.Count
	}

	return summary, nil
}

// ClaimNext moves the best eligible job to PROCESSING inside one transaction.
// A lost race returns nil, nil; the caller picks it up again on its next poll.
func (r *SQLiteRepository) ClaimNext(ctx context.Context, now time.Time) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	nowMillis := now.UnixMilli()

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE state = ? OR (state = ? AND next_execution_time <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`

	var row jobRow
	err = sqlscan.Get(ctx, tx, &row, query, models.StatePending, models.StateFailed, nowMillis)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, nil
		}
		if isBusy(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find claimable job: %w", err)
	}

	updateQuery := `
		UPDATE jobs
		SET state = ?,
		    attempts = attempts + 1,
		    updated_at = ?
		WHERE id = ?
		  AND (state = ? OR (state = ? AND next_execution_time <= ?))
	`

	res, err := tx.ExecContext(ctx, updateQuery,
		models.StateProcessing,
		nowMillis,
		row.ID,
		models.StatePending,
		models.StateFailed,
		nowMillis,
	)
	if err != nil {
		if isBusy(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	job := row.toModel()
	job.State = models.StateProcessing
	job.Attempts++
	job.UpdatedAt = fromMillis(nowMillis)

	return job, nil
}

// GetConfig returns the stored value for key
func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrConfigNotFound
		}
		return "", fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, nil
}

// SetConfig inserts or replaces a config value
func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// ListConfig returns every stored config value
func (r *SQLiteRepository) ListConfig(ctx context.Context) (map[string]string, error) {
	var entries []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := sqlscan.Select(ctx, r.db, &entries, `SELECT key, value FROM config ORDER BY key`); err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}

	values := make(map[string]string, len(entries))
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	return values, nil
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
