package history

import (
	"context"
	"log/slog"
	"time"
)

// PurgeConfig controls the retention job. Zero values select defaults.
type PurgeConfig struct {
	RetentionDays int           // default: 90
	Interval      time.Duration // default: 24h
}

func (c PurgeConfig) withDefaults() PurgeConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	return c
}

// RunPurge deletes expired entries immediately and then every Interval until
// ctx is cancelled. Failures are logged and the loop keeps going.
func RunPurge(ctx context.Context, store Store, cfg PurgeConfig) {
	cfg = cfg.withDefaults()
	slog.Info("history purge scheduler started",
		"retention_days", cfg.RetentionDays,
		"interval", cfg.Interval,
	)

	purgeOnce(ctx, store, cfg.RetentionDays)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("history purge scheduler stopped")
			return
		case <-ticker.C:
			purgeOnce(ctx, store, cfg.RetentionDays)
		}
	}
}

func purgeOnce(ctx context.Context, store Store, retentionDays int) {
	start := time.Now()
	cutoff := start.AddDate(0, 0, -retentionDays)

	purged, err := store.Purge(ctx, cutoff)
	if err != nil {
		slog.Error("history purge failed", "error", err)
		return
	}
	slog.Info("purged submission history",
		"entries_purged", purged,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
