package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// exerciseKV runs the shared contract against any backend whose clock is driven by clk.
func exerciseKV(t *testing.T, kv KV, clk *fakeClock) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	ttl, err := kv.TTL(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, TTLMissing, ttl)

	require.NoError(t, kv.Set(ctx, "k", []byte(`{"a":1}`), time.Minute))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(got))

	ttl, err = kv.TTL(ctx, "k")
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, kv.Set(ctx, "forever", []byte("x"), 0))
	ttl, err = kv.TTL(ctx, "forever")
	require.NoError(t, err)
	require.Equal(t, TTLNoExpiry, ttl)

	if clk != nil {
		clk.Advance(2 * time.Minute)
		ttl, err = kv.TTL(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, time.Duration(0), ttl)

		_, err = kv.Get(ctx, "k")
		require.ErrorIs(t, err, ErrExpired)

		sw, ok := kv.(Sweeper)
		require.True(t, ok)
		n, err := sw.Sweep(ctx, clk.Now())
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		ttl, err = kv.TTL(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, TTLMissing, ttl)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	clk := newClock()
	exerciseKV(t, NewMemoryWithClock(clk.Now), clk)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestSQLStoreSQLite(t *testing.T) {
	t.Parallel()

	s, err := NewSQL(DriverSQLite, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clk := newClock()
	s.now = clk.Now
	require.NoError(t, s.Ping(context.Background()))
	require.Equal(t, "sql:sqlite", s.Backend())
	exerciseKV(t, s, clk)
}

func TestSQLStoreOverwrite(t *testing.T) {
	t.Parallel()

	s, err := NewSQL(DriverSQLite, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("one"), time.Minute))
	require.NoError(t, s.Set(ctx, "k", []byte("two"), time.Hour))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "two", string(got))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)
}

func TestNewSQLRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := NewSQL("oracle", "x")
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	exerciseKV(t, r, nil)

	// Redis evicts on expiry, so an elapsed key reads as missing.
	mr.FastForward(2 * time.Minute)
	ttl, err := r.TTL(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, TTLMissing, ttl)
}

func TestRedisStoreSharedClient(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisFromClient(client)
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	require.NoError(t, mr.Set("legacy", `{"problem":"p"}`))

	ttl, err := r.TTL(ctx, "legacy")
	require.NoError(t, err)
	require.Equal(t, TTLNoExpiry, ttl)

	got, err := r.Get(ctx, "legacy")
	require.NoError(t, err)
	require.JSONEq(t, `{"problem":"p"}`, string(got))

	require.NoError(t, r.Set(ctx, "legacy", got, time.Minute))
	require.Equal(t, time.Minute, mr.TTL("legacy"))
}

func TestOpenSelectsBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	kv, err := Open(ctx, Options{Backend: BackendMemory})
	require.NoError(t, err)
	require.Equal(t, "memory", kv.Backend())

	mr := miniredis.RunT(t)
	kv, err = Open(ctx, Options{Backend: BackendRedis, RedisURL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	require.Equal(t, "redis", kv.Backend())
	_ = kv.Close()

	_, err = Open(ctx, Options{Backend: "etcd"})
	require.Error(t, err)
}

func TestOpenFallsBackToMemory(t *testing.T) {
	t.Parallel()

	kv, err := Open(context.Background(), Options{
		Backend:     BackendRedis,
		RedisURL:    "redis://127.0.0.1:1/0",
		PingTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, "memory", kv.Backend())
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSweeper(ctx, NewMemory(), 10*time.Millisecond, 0) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestWithConflictRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := withConflictRetry(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY: database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = withConflictRetry(context.Background(), "op", func() error {
		calls++
		return errors.New("syntax error")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
