// Package storage provides the key-value stores that hold the persisted
// Credential Record, the last known user record, and the session-scoped
// referrer check.
//
// # Backends
//
//   - [Memory]: process-local map, used for session-scoped data and tests.
//   - [File]: a single JSON document on disk written with temp-file + rename.
//   - [Redis]: any redis.UniversalClient, multi-key writes in one MULTI/EXEC.
//
// All backends honour the same contract: SetMany is all-or-nothing and
// Delete is idempotent.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Storage is a flat string key-value store.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	// SetMany writes every entry or none of them.
	SetMany(ctx context.Context, entries map[string]string) error
	// Delete removes the keys; absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config selects and configures a backend for [Open].
type Config struct {
	Backend string

	FilePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Expiration applies to every key written to Redis. Zero keeps keys forever.
	Expiration time.Duration
}

// Open builds the backend named by cfg.Backend. An empty backend selects memory.
func Open(cfg Config) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		if cfg.FilePath == "" {
			return nil, errors.New("storage: file backend requires a path")
		}
		return NewFile(cfg.FilePath), nil
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("storage: redis backend requires an address")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, cfg.Expiration), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
