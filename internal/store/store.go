// Package store provides the expiring key-value persistence used for session records.
package store

import (
	"context"
	"errors"
	"time"
)

// TTL sentinels, matching the conventions of Redis TTL replies.
const (
	// TTLNoExpiry means the key exists without an expiry.
	TTLNoExpiry time.Duration = -1
	// TTLMissing means the key does not exist.
	TTLMissing time.Duration = -2
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("key not found")
	// ErrExpired is returned by Get when the key's TTL elapsed but the entry was not swept yet.
	ErrExpired = errors.New("key expired")
)

// KV defines the interface for an expiring key-value store.
type KV interface {
	// Get returns the stored value for key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key and sets its expiry. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// TTL returns the remaining lifetime of key, TTLMissing when absent,
	// TTLNoExpiry when the key never expires, or 0 when the lifetime has elapsed.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error

	// Backend names the implementation, e.g. "redis" or "memory".
	Backend() string
}

// Sweeper is implemented by backends that keep expired entries until purged.
type Sweeper interface {
	// Sweep deletes entries whose expiry is before cutoff and returns how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int64, error)
}

func remaining(expiresAt, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return TTLNoExpiry
	}
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return d
}
