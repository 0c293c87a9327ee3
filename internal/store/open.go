package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendSQL    = "sql"
	BackendMemory = "memory"
)

// Options selects and configures the KV backend.
type Options struct {
	Backend     string
	RedisURL    string
	SQLDriver   string
	SQLDSN      string
	PingTimeout time.Duration
}

// Open builds the configured backend once at startup. When Redis cannot be
// reached the in-memory store is returned instead and the fallback is logged.
func Open(ctx context.Context, opts Options) (KV, error) {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}

	switch opts.Backend {
	case BackendMemory:
		return NewMemory(), nil

	case BackendSQL:
		s, err := NewSQL(opts.SQLDriver, opts.SQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open sql store: %w", err)
		}
		return s, nil

	case BackendRedis, "":
		r, err := NewRedis(opts.RedisURL)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			_ = r.Close()
			slog.Warn("Redis unreachable, falling back to in-memory store",
				"redis_url", redactURL(opts.RedisURL),
				"error", err)
			return NewMemory(), nil
		}
		return r, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}
