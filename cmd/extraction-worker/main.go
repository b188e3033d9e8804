// Package main runs the extraction worker. It consumes narrative results,
// extracts medication entries and upserts them as reminders.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/config"
	"github.com/drfirst/go-medplan/internal/domain/reminder"
	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/internal/infrastructure/postgres"
	"github.com/drfirst/go-medplan/internal/infrastructure/redpanda"
	"github.com/drfirst/go-medplan/internal/ingest"
	"github.com/drfirst/go-medplan/internal/narrative"
	"github.com/drfirst/go-medplan/internal/observability/logging"
	"github.com/drfirst/go-medplan/internal/observability/metrics"
	"github.com/drfirst/go-medplan/internal/observability/tracing"
	"github.com/drfirst/go-medplan/pkg/idempotency"
	"github.com/drfirst/go-medplan/pkg/workerpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.FromConfig("medplan-extraction-worker", cfg))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	m := metrics.New(nil)

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	var analyzer narrative.Analyzer
	if cfg.NarrativeConfigured() {
		client, err := narrative.NewClient(narrative.ClientConfig{
			BaseURL: cfg.NarrativeBaseURL,
			APIKey:  cfg.NarrativeAPIKey,
			Model:   cfg.NarrativeModel,
			Timeout: cfg.NarrativeTimeout,
		}, m, logger)
		if err != nil {
			logger.Fatal("narrative client creation failed", zap.Error(err))
		}
		analyzer = client
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.WorkerConcurrency

	processor, err := ingest.NewProcessor(ingest.Config{
		Inbox:     inbox,
		Reminders: reminder.NewStore(reminder.NewPGRepository(pool), logger),
		Extractor: extraction.New(
			extraction.WithSentinels(cfg.ExtractionSentinels...),
			extraction.WithLogger(logger),
		),
		Analyzer: analyzer,
		Observer: m,
		Pool:     poolCfg,
	}, logger)
	if err != nil {
		logger.Fatal("processor creation failed", zap.Error(err))
	}
	processor.Start()
	defer processor.Stop()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers

	consumer, err := redpanda.NewConsumer(consumerCfg, processor.Handle, m, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("extraction worker started",
		zap.Strings("topics", consumerCfg.Topics),
		zap.Int("workers", poolCfg.Workers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	logger.Info("extraction worker stopped")
}
