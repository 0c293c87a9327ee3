package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Michdriod/RCA-AI/internal/shared"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore implements KV on a single SQL table. Expired rows stay readable
// as elapsed until Sweep removes them.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

type kvRow struct {
	Value     string        `db:"value"`
	ExpiresAt sql.NullInt64 `db:"expires_at"`
}

// NewSQL opens a SQL-backed store. driver is "sqlite" or "postgres".
func NewSQL(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode for concurrent readers.
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		entry_key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at BIGINT,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_kv_entries_expires ON kv_entries(expires_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	row, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if row.ExpiresAt.Valid && remaining(time.UnixMilli(row.ExpiresAt.Int64), s.now()) == 0 {
		return nil, ErrExpired
	}
	return []byte(row.Value), nil
}

func (s *SQLStore) load(ctx context.Context, key string) (*kvRow, error) {
	var row kvRow
	query := s.db.Rebind(`SELECT value, expires_at FROM kv_entries WHERE entry_key = ?`)
	if err := s.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select entry: %w", err)
	}
	return &row, nil
}

// Set upserts value with the given ttl, retrying on write contention.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	var expires sql.NullInt64
	if ttl > 0 {
		expires = sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
	}
	query := s.db.Rebind(`
		INSERT INTO kv_entries (entry_key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entry_key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`)

	return withConflictRetry(ctx, "set "+key, func() error {
		_, err := s.db.ExecContext(ctx, query, key, string(value), expires, now.UnixMilli())
		return err
	})
}

// TTL returns the remaining lifetime of key.
func (s *SQLStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	row, err := s.load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return TTLMissing, nil
	}
	if err != nil {
		return 0, err
	}
	if !row.ExpiresAt.Valid {
		return TTLNoExpiry, nil
	}
	return remaining(time.UnixMilli(row.ExpiresAt.Int64), s.now()), nil
}

// Sweep deletes rows that expired before cutoff.
func (s *SQLStore) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.db.Rebind(`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at < ?`)
	var deleted int64
	err := withConflictRetry(ctx, "sweep", func() error {
		res, err := s.db.ExecContext(ctx, query, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Backend returns "sql:<driver>".
func (s *SQLStore) Backend() string { return "sql:" + s.driver }

// withConflictRetry runs op with exponential backoff while it fails with
// SQLITE_BUSY, "database is locked", or a Postgres serialization failure.
func withConflictRetry(ctx context.Context, what string, op func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Database busy, retrying", "op", what, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

var (
	_ KV      = (*SQLStore)(nil)
	_ Sweeper = (*SQLStore)(nil)
)
