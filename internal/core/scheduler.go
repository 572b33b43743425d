package core

import (
	"context"

	"github.com/JonMunkholm/batchpush/internal/history"
)

// StartHistoryPurge removes submission history older than the retention
// window, immediately and then every cfg.Interval, until ctx is cancelled.
// Purge failures are logged and never stop the server.
func (s *Service) StartHistoryPurge(ctx context.Context, cfg history.PurgeConfig) {
	history.RunPurge(ctx, s.history, cfg)
}
