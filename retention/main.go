package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexmurav/docsearch/internal/config"
	"github.com/alexmurav/docsearch/internal/logger"
	"github.com/alexmurav/docsearch/internal/store"
)

func main() {
	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Retry store startup with backoff; the worker may still be
	// creating the database on a fresh deployment.
	var st *store.Store
	retryDelay := 2 * time.Second
	for i := 0; i < 10; i++ {
		st, err = store.New(cfg.DatabasePath)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			pingErr := st.Ping(pingCtx)
			cancel()
			if pingErr == nil {
				break
			}
			log.Warn("store ping failed, retrying",
				slog.Any("err", pingErr),
				slog.Int("attempt", i+1),
				slog.Duration("retry_in", retryDelay),
			)
			st.Close()
			st = nil
		} else {
			log.Warn("failed to open store, retrying",
				slog.Any("err", err),
				slog.Int("attempt", i+1),
				slog.Duration("retry_in", retryDelay),
			)
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			log.Info("shutdown signal received during startup")
			os.Exit(0)
		}
		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}

	if st == nil {
		log.Error("failed to open store after retries")
		os.Exit(1)
	}
	defer st.Close()

	log.Info("retention job running",
		slog.Duration("interval", cfg.Interval),
		slog.Int("batch_size", cfg.BatchSize),
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	runOnce(ctx, log, st, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, st, cfg)
		}
	}
}

// runOnce sweeps superseded index and extracted-text rows in batches
// until the store reports nothing left to prune.
func runOnce(ctx context.Context, log *slog.Logger, st *store.Store, cfg *config.Retention) {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var total int64
	for {
		deleted, err := st.PruneStale(subCtx, cfg.BatchSize)
		if err != nil {
			log.Warn("retention run failed (will retry on next interval)", slog.Any("err", err))
			return
		}
		total += deleted
		if deleted == 0 {
			break
		}
	}

	if total > 0 {
		log.Info("retention run completed", slog.Int64("deleted", total))
	} else {
		log.Debug("retention run completed, no stale rows found")
	}
}
