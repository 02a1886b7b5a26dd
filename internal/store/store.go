// Package store provides the key-value port that holds all exchange state,
// with a Redis implementation for production and an in-memory one for tests.
package store

import (
	"context"
	"time"
)

// Store is the port every stateful component goes through. The backend is
// any Redis-protocol server; implementations map failures to the error
// kinds in pkg/errors: connectivity problems surface as ErrTransient once
// retries are exhausted, missing plain keys as ErrNotFound.
//
// Hash semantics follow Redis: HGetAll on a missing key returns an empty
// map, never an error.
type Store interface {
	// Hashes
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error)

	// Plain keys
	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error

	// Index sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SInter(ctx context.Context, keys ...string) ([]string, error)

	// WithLock runs fn while holding the advisory lock named key (stored
	// as lock_<key>). The lock auto-expires after ttl; acquisition waits
	// at most one ttl before giving up with ErrConflict.
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error

	Ping(ctx context.Context) error
	Close() error
}
