package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/batchpush/internal/config"
	"github.com/JonMunkholm/batchpush/internal/core"
	"github.com/JonMunkholm/batchpush/internal/history"
	"github.com/JonMunkholm/batchpush/internal/logging"
	"github.com/JonMunkholm/batchpush/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"ingest_base_url", cfg.Endpoint.BaseURL,
		"default_table", cfg.Endpoint.DefaultTable,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"history_persistent", cfg.History.Persistent(),
	)

	ctx := context.Background()
	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		slog.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	service := core.NewServiceFromConfig(cfg, store)
	defer service.Close()

	server := web.NewServer(service, cfg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartHistoryPurge(jobCtx, history.PurgeConfig{
		RetentionDays: cfg.History.RetentionDays,
		Interval:      cfg.History.PurgeInterval,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight submissions finish so their outcome is recorded.
		if status := service.SubmitLimiterStatus(); status.Active > 0 {
			slog.Info("waiting for submissions to complete", "active", status.Active)
			if err := service.WaitForSubmissions(shutdownCtx); err != nil {
				slog.Warn("submissions did not complete in time", "error", err)
			} else {
				slog.Info("all submissions completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	cancelJobs()
	slog.Info("server stopped")
}

// openHistory connects to PostgreSQL when a database URL is configured and
// falls back to memory otherwise.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	if !cfg.Persistent() {
		slog.Info("no database configured, keeping submission history in memory", "limit", cfg.MemoryLimit)
		return history.NewMemoryStore(cfg.MemoryLimit), nil
	}
	store, err := history.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}
