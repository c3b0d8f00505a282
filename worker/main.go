package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alexmurav/docsearch/internal/config"
	"github.com/alexmurav/docsearch/internal/dedupe"
	"github.com/alexmurav/docsearch/internal/logger"
	"github.com/alexmurav/docsearch/internal/pipeline"
	"github.com/alexmurav/docsearch/internal/queue"
	"github.com/alexmurav/docsearch/internal/store"
)

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		log.Error("init store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	indexPub := queue.NewPublisher(cfg.KafkaBrokers, cfg.IndexTopic)
	defer indexPub.Close()

	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)

	extractor := pipeline.NewExtractor(st, indexPub, log)
	indexer := pipeline.NewIndexer(st, cache, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	extractConsumer := queue.NewConsumer(queue.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		Topic:      cfg.ExtractTopic,
		GroupID:    cfg.ConsumerGroup,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, log)
	defer extractConsumer.Close()

	indexConsumer := queue.NewConsumer(queue.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		Topic:      cfg.IndexTopic,
		GroupID:    cfg.ConsumerGroup,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, log)
	defer indexConsumer.Close()

	log.Info("worker started",
		slog.String("extract_topic", cfg.ExtractTopic),
		slog.String("index_topic", cfg.IndexTopic),
		slog.String("group", cfg.ConsumerGroup),
		slog.Int("max_retries", cfg.MaxRetries),
		slog.Duration("retry_delay", cfg.RetryDelay),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return extractConsumer.Run(gctx, extractor.Handle) })
	g.Go(func() error { return indexConsumer.Run(gctx, indexer.Handle) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("worker stopped")
}
