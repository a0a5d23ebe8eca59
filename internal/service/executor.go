package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os/exec"
	"queuectl/internal/logsink"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"strings"
	"time"
)

const (
	defaultPollInterval = time.Second
	defaultWaitDelay    = time.Second
	maxLineSize         = 1024 * 1024
	errorPrefix         = "[ERROR] "
)

// errShutdownKill is the fault recorded for a command killed after the grace period.
var errShutdownKill = errors.New("terminated by pool shutdown")

// Executor runs the claim, execute and commit loop for one worker slot
type Executor struct {
	id       int
	repo     repository.JobRepository
	settings *Settings
	sink     *logsink.Sink
	metrics  *metrics.Metrics

	shell        string
	pollInterval time.Duration
	waitDelay    time.Duration
	now          func() time.Time
}

// NewExecutor creates the executor for worker slot id
func NewExecutor(id int, repo repository.JobRepository, settings *Settings, sink *logsink.Sink, metrics *metrics.Metrics) *Executor {
	return &Executor{
		id:           id,
		repo:         repo,
		settings:     settings,
		sink:         sink,
		metrics:      metrics,
		shell:        "sh",
		pollInterval: defaultPollInterval,
		waitDelay:    defaultWaitDelay,
		now:          time.Now,
	}
}

// result is what one execution attempt produced
type result struct {
	outcome  models.Outcome
	output   string
	duration time.Duration
}

// Run processes jobs until ctx is cancelled. Cancellation is only observed
// between jobs; an in-flight command keeps running until it finishes, times
// out, or kill is closed.
func (e *Executor) Run(ctx context.Context, kill <-chan struct{}) {
	e.metrics.ExecutorStarted()
	defer e.metrics.ExecutorStopped()

	log.Printf("worker=%d: started", e.id)
	defer log.Printf("worker=%d: stopped", e.id)

	for {
		if ctx.Err() != nil {
			return
		}

		if e.RunOnce(ctx, kill) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.pollInterval):
		}
	}
}

// RunOnce claims and executes at most one job. It reports whether a job was processed.
func (e *Executor) RunOnce(ctx context.Context, kill <-chan struct{}) bool {
	// claim, execution and commit must not be cut short by a stop request
	ctx = context.WithoutCancel(ctx)

	job, err := e.repo.ClaimNext(ctx, e.now())
	if err != nil {
		log.Printf("worker=%d: error claiming job: %v", e.id, err)
		return false
	}
	if job == nil {
		return false
	}

	e.metrics.IncrementClaimedJobs()
	log.Printf("job_id=%s: job claimed by worker=%d, attempt=%d", job.ID, e.id, job.Attempts)

	res := e.execute(job, kill)
	e.commit(ctx, job, res)
	return true
}

type streamLine struct {
	text   string
	stderr bool
}

// execute runs the job's command and collects its output. Both streams feed
// a single aggregator that owns the output buffer and the log section.
func (e *Executor) execute(job *models.Job, kill <-chan struct{}) result {
	started := time.Now()

	section, err := e.sink.OpenSection(job.ID, job.Attempts, e.now())
	if err != nil {
		log.Printf("job_id=%s: error opening log: %v", job.ID, err)
	}

	var buf strings.Builder
	emit := func(line string) {
		buf.WriteString(line)
		buf.WriteByte('\n')
		if section != nil {
			if err := section.WriteLine(line); err != nil {
				log.Printf("job_id=%s: error writing log: %v", job.ID, err)
				section.Close()
				section = nil
			}
		}
	}
	finish := func(outcome models.Outcome, marker string) result {
		if marker != "" {
			emit("")
			emit(errorPrefix + marker)
		}
		if section != nil {
			if err := section.Close(); err != nil {
				log.Printf("job_id=%s: error closing log: %v", job.ID, err)
			}
		}
		return result{
			outcome:  outcome,
			output:   strings.TrimSpace(buf.String()),
			duration: time.Since(started),
		}
	}

	timeoutSeconds := job.Timeout
	if timeoutSeconds <= 0 {
		timeoutSeconds = models.DefaultTimeoutSeconds
	}

	cmd := exec.Command(e.shell, "-c", job.Command)
	setProcessGroup(cmd)
	cmd.WaitDelay = e.waitDelay

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return finish(models.OutcomeExecFault, "Execution failed: "+err.Error())
	}

	lines := make(chan streamLine)
	faults := make(chan error, 2)
	drained := make(chan struct{})
	go func() {
		drainStream(stdoutR, false, lines, faults)
		drained <- struct{}{}
	}()
	go func() {
		drainStream(stderrR, true, lines, faults)
		drained <- struct{}{}
	}()
	go func() {
		<-drained
		<-drained
		close(lines)
	}()

	aggregated := make(chan struct{})
	go func() {
		defer close(aggregated)
		for l := range lines {
			if l.stderr {
				emit(errorPrefix + l.text)
			} else {
				emit(l.text)
			}
		}
	}()

	exited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		exited <- err
	}()

	timer := time.NewTimer(TimeoutDuration(timeoutSeconds))
	defer timer.Stop()

	var (
		outcome models.Outcome
		marker  string
		waitErr error
		running = true
	)
	select {
	case waitErr = <-exited:
		running = false
	case <-timer.C:
		outcome = models.OutcomeTimeout
		marker = fmt.Sprintf("Job timed out after %d seconds.", timeoutSeconds)
		log.Printf("job_id=%s: job timed out after %d seconds", job.ID, timeoutSeconds)
	case err := <-faults:
		outcome = models.OutcomeExecFault
		marker = "Execution failed: " + err.Error()
	case <-kill:
		outcome = models.OutcomeExecFault
		marker = "Execution failed: " + errShutdownKill.Error()
		log.Printf("job_id=%s: killing job for pool shutdown", job.ID)
	}

	if running {
		if err := killProcessGroup(cmd); err != nil {
			log.Printf("job_id=%s: error killing process: %v", job.ID, err)
		}
		<-exited
	}
	<-aggregated

	if running {
		return finish(outcome, marker)
	}

	select {
	case err := <-faults:
		return finish(models.OutcomeExecFault, "Execution failed: "+err.Error())
	default:
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		return finish(models.OutcomeSuccess, "")
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// the shell exited cleanly but a background child kept its output open
		killProcessGroup(cmd)
		log.Printf("job_id=%s: killed background processes left by the job", job.ID)
		return finish(models.OutcomeSuccess, "")
	case errors.As(waitErr, &exitErr):
		return finish(models.OutcomeNonZeroExit, fmt.Sprintf("Exited with code %d.", exitErr.ExitCode()))
	default:
		return finish(models.OutcomeExecFault, "Execution failed: "+waitErr.Error())
	}
}

// drainStream forwards each line of r. After a read fault it keeps
// discarding input so the child never blocks on a full pipe.
func drainStream(r io.Reader, stderr bool, lines chan<- streamLine, faults chan<- error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		lines <- streamLine{text: sc.Text(), stderr: stderr}
	}
	if err := sc.Err(); err != nil {
		faults <- err
		io.Copy(io.Discard, r)
	}
}

// commit writes the attempt's result back to the repository
func (e *Executor) commit(ctx context.Context, job *models.Job, res result) {
	now := e.now()
	job.Output = res.output

	if res.outcome == models.OutcomeSuccess {
		job.State = models.StateCompleted
		e.metrics.IncrementCompletedJobs()
		log.Printf("job_id=%s: job completed successfully", job.ID)
	} else {
		e.applyFailurePolicy(ctx, job, res.outcome, now)
	}
	job.UpdatedAt = now

	if err := e.repo.Update(ctx, job); err != nil {
		log.Printf("job_id=%s: error saving job state %s: %v", job.ID, job.State, err)
	}

	e.metrics.ObserveAttempt(string(res.outcome), res.duration.Seconds())
}

func (e *Executor) applyFailurePolicy(ctx context.Context, job *models.Job, outcome models.Outcome, now time.Time) {
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.settings.GetInt(ctx, KeyMaxRetries, DefaultMaxRetries)
	}

	if job.Attempts >= maxRetries {
		job.State = models.StateDead
		e.metrics.IncrementDeadJobs()
		log.Printf("job_id=%s: job moved to dead letter queue after %d attempts, outcome=%s", job.ID, job.Attempts, outcome)
		return
	}

	base := e.settings.GetInt(ctx, KeyBackoffBase, DefaultBackoffBase)
	delay := BackoffDelay(base, job.Attempts)
	job.State = models.StateFailed
	job.NextExecutionTime = now.Add(delay)

	e.metrics.IncrementRetriedJobs()
	log.Printf("job_id=%s: job failed, retrying in %s (attempt %d/%d), outcome=%s", job.ID, delay, job.Attempts, maxRetries, outcome)
}

// TimeoutDuration converts a job timeout in seconds to a duration,
// saturating instead of overflowing.
func TimeoutDuration(seconds int) time.Duration {
	if int64(seconds) > math.MaxInt64/int64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds) * time.Second
}

// BackoffDelay returns base^attempts seconds. Results beyond what a
// time.Duration can hold saturate at its maximum.
func BackoffDelay(base, attempts int) time.Duration {
	seconds := math.Pow(float64(base), float64(attempts))
	if seconds >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds * float64(time.Second))
}
