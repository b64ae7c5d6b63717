package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often the retention worker sweeps.
const DefaultRetentionInterval = time.Hour

// StartRetentionWorker runs a background goroutine that periodically deletes
// snapshots older than retention. A non-positive retention disables it.
func StartRetentionWorker(ctx context.Context, archive Archive, retention, interval time.Duration, now func() time.Time) {
	if retention <= 0 {
		slog.Info("Snapshot retention disabled")
		return
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, archive, retention, now)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, archive Archive, retention time.Duration, now func() time.Time) int64 {
	deleted, err := archive.PruneSnapshots(ctx, now().Add(-retention))
	if err != nil {
		slog.Error("Retention worker failed to prune snapshots", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention worker pruned snapshots", "count", deleted)
	}
	return deleted
}
