// Package logsink stores per-job execution logs, one append-only file per job id.
package logsink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoLogs is returned by Read when a job has never been executed.
var ErrNoLogs = errors.New("no logs for job")

// ErrInvalidJobID is returned for ids that cannot name a file inside the log directory.
var ErrInvalidJobID = errors.New("job id must not contain path separators or be . or ..")

// Sink writes job logs under a single directory.
type Sink struct {
	dir string
}

// New creates a Sink rooted at dir.
func New(dir string) *Sink {
	return &Sink{dir: dir}
}

// Dir returns the directory holding the log files.
func (s *Sink) Dir() string {
	return s.dir
}

// ValidateJobID reports whether jobID can be used as a log file name.
func ValidateJobID(jobID string) error {
	if jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) || strings.ContainsRune(jobID, 0) {
		return ErrInvalidJobID
	}
	return nil
}

func (s *Sink) path(jobID string) (string, error) {
	if err := ValidateJobID(jobID); err != nil {
		return "", fmt.Errorf("%w: %q", err, jobID)
	}
	return filepath.Join(s.dir, jobID+".log"), nil
}

// Section is the log of one execution attempt. It is not safe for concurrent
// use; the executor funnels both output streams through a single writer.
type Section struct {
	f *os.File
	w *bufio.Writer
}

// OpenSection appends the header for an attempt and returns a writer for its lines.
func (s *Sink) OpenSection(jobID string, attempt int, start time.Time) (*Section, error) {
	path, err := s.path(jobID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log for job %s: %w", jobID, err)
	}

	sec := &Section{f: f, w: bufio.NewWriter(f)}
	if _, err := fmt.Fprintf(sec.w, "\n--- ATTEMPT %d at %s ---\n", attempt, start.Format(time.RFC1123)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write log header for job %s: %w", jobID, err)
	}
	return sec, nil
}

// WriteLine appends one line to the section.
func (sec *Section) WriteLine(line string) error {
	if _, err := sec.w.WriteString(line); err != nil {
		return err
	}
	return sec.w.WriteByte('\n')
}

// Close flushes buffered lines and closes the file.
func (sec *Section) Close() error {
	flushErr := sec.w.Flush()
	closeErr := sec.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Read returns the full log of a job.
func (s *Sink) Read(jobID string) (string, error) {
	path, err := s.path(jobID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoLogs
		}
		return "", fmt.Errorf("failed to read log for job %s: %w", jobID, err)
	}
	return string(data), nil
}
