package service

import (
	"context"
	"errors"
	"log"
	"queuectl/internal/repository"
	"strconv"
)

// Config keys consumed by the executor.
const (
	KeyMaxRetries  = "max-retries"
	KeyBackoffBase = "backoff-base"

	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2
)

// KnownConfigKeys lists the keys accepted by `config set`.
var KnownConfigKeys = []string{KeyMaxRetries, KeyBackoffBase}

// Settings is a typed read view over the config table. Storage faults are
// logged and degrade to the caller's default.
type Settings struct {
	repo repository.ConfigRepository
}

// NewSettings creates a new settings accessor
func NewSettings(repo repository.ConfigRepository) *Settings {
	return &Settings{repo: repo}
}

// GetString returns the stored value for key, if any.
func (s *Settings) GetString(ctx context.Context, key string) (string, bool) {
	value, err := s.repo.GetConfig(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrConfigNotFound) {
			log.Printf("error reading config %s: %v", key, err)
		}
		return "", false
	}
	return value, true
}

// GetInt returns the stored value for key parsed as an integer, or def.
func (s *Settings) GetInt(ctx context.Context, key string, def int) int {
	value, ok := s.GetString(ctx, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config %s=%q is not an integer, using default %d", key, value, def)
		return def
	}
	return n
}
