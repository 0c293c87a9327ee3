package events

import (
	"context"
	"log/slog"
	"time"
)

const defaultEvictInterval = 5 * time.Minute

// RunEviction periodically releases backlogs idle for longer than idle.
// Sessions refresh their store TTL on every mutation and every mutation
// publishes, so passing the session TTL keeps backlogs no longer than the
// sessions they describe. It blocks until ctx is done.
func RunEviction(ctx context.Context, h *Hub, interval, idle time.Duration) error {
	if interval <= 0 {
		interval = defaultEvictInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Event backlog eviction started", "interval", interval, "idle", idle)

	for {
		select {
		case <-ticker.C:
			if n := h.Evict(h.now().Add(-idle)); n > 0 {
				slog.Info("Evicted idle event backlogs", "count", n)
			}
		case <-ctx.Done():
			slog.Info("Event backlog eviction shutting down", "reason", ctx.Err())
			return nil
		}
	}
}
