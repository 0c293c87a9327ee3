package store

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// RunSweeper periodically purges entries that expired more than retention ago.
// Keeping recently expired entries lets readers tell an expired session from
// one that never existed. It blocks until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval, retention time.Duration) error {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Expiry sweeper started", "interval", interval, "retention", retention)

	for {
		select {
		case <-ticker.C:
			sweepOnce(ctx, s, time.Now().Add(-retention))
		case <-ctx.Done():
			slog.Info("Expiry sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func sweepOnce(ctx context.Context, s Sweeper, cutoff time.Time) {
	deleted, err := s.Sweep(ctx, cutoff)
	if err != nil {
		slog.Error("Expiry sweeper failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Expiry sweeper removed entries", "count", deleted)
	}
}
