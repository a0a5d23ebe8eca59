// Package config resolves where queuectl keeps its state.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	EnvHome = "QUEUECTL_HOME"
	EnvDB   = "QUEUECTL_DB"
)

// Config holds the filesystem locations used by every command
type Config struct {
	Home    string
	DBPath  string
	LogDir  string
	PIDFile string
}

// Load reads an optional .env file from the working directory, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment alone.
func FromEnv() (*Config, error) {
	home := os.Getenv(EnvHome)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		home = filepath.Join(userHome, ".queuectl")
	}

	dbPath := os.Getenv(EnvDB)
	if dbPath == "" {
		dbPath = filepath.Join(home, "queuectl.db")
	}

	return &Config{
		Home:    home,
		DBPath:  dbPath,
		LogDir:  filepath.Join(home, "logs"),
		PIDFile: filepath.Join(home, "worker.pid"),
	}, nil
}

// EnsureDirs creates the state directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Home, c.LogDir, filepath.Dir(c.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
