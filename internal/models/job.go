package models

import (
	"fmt"
	"strings"
	"time"
)

// JobState represents the state of a job
type JobState string

const (
	StatePending    JobState = "PENDING"
	StateProcessing JobState = "PROCESSING"
	StateFailed     JobState = "FAILED"
	StateCompleted  JobState = "COMPLETED"
	StateDead       JobState = "DEAD"
)

// AllStates lists every job state in display order.
var AllStates = []JobState{
	StatePending,
	StateProcessing,
	StateFailed,
	StateCompleted,
	StateDead,
}

// DefaultTimeoutSeconds is applied at enqueue when a job does not carry a timeout.
const DefaultTimeoutSeconds = 300

// ParseState converts user input such as "dead" into a JobState.
func ParseState(s string) (JobState, error) {
	state := JobState(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllStates {
		if state == known {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// IsTerminal reports whether no executor will ever claim a job in this state again.
func (s JobState) IsTerminal() bool {
	return s == StateCompleted || s == StateDead
}

// Job represents a shell command queued for execution
type Job struct {
	ID                string    `json:"id"`
	Command           string    `json:"command"`
	State             JobState  `json:"state"`
	Attempts          int       `json:"attempts"`
	MaxRetries        int       `json:"max_retries"`
	Priority          int       `json:"priority"`
	Timeout           int       `json:"timeout"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	NextExecutionTime time.Time `json:"next_execution_time"`
	Output            string    `json:"output,omitempty"`
}

// EnqueueRequest represents a request to enqueue a job.
// MaxRetries of 0 defers to the configured max-retries.
type EnqueueRequest struct {
	ID         string `json:"id,omitempty"`
	Command    string `json:"command"`
	MaxRetries int    `json:"max_retries,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	Timeout    int    `json:"timeout,omitempty"`
}

// Outcome is the result of one execution attempt
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeTimeout     Outcome = "TIMEOUT"
	OutcomeNonZeroExit Outcome = "NONZERO_EXIT"
	OutcomeExecFault   Outcome = "EXEC_FAULT"
)
