// Package registry records which process is running the worker pool.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFile keeps the pool's process id in a single file; the file existing
// means a pool is running.
type PIDFile struct {
	path string
}

// NewPIDFile creates a registry backed by the file at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the location of the pid file.
func (p *PIDFile) Path() string {
	return p.path
}

// Publish records pid as the running pool.
func (p *PIDFile) Publish(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish pid file: %w", err)
	}
	return nil
}

// CurrentID returns the published pid, if any.
func (p *PIDFile) CurrentID() (int, bool, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("invalid pid file %s: %w", p.path, err)
	}
	return pid, true, nil
}

// Clear removes the pid file. Clearing an absent file is not an error.
func (p *PIDFile) Clear() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}
