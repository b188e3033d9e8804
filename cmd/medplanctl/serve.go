package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/api"
	"github.com/drfirst/go-medplan/internal/config"
	"github.com/drfirst/go-medplan/internal/domain/prescription"
	"github.com/drfirst/go-medplan/internal/domain/reminder"
	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/internal/infrastructure/postgres"
	"github.com/drfirst/go-medplan/internal/narrative"
	"github.com/drfirst/go-medplan/internal/observability/logging"
	"github.com/drfirst/go-medplan/internal/observability/metrics"
	"github.com/drfirst/go-medplan/internal/observability/tracing"
	"github.com/drfirst/go-medplan/internal/schedule"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.FromConfig("medplan-api", cfg))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	m := metrics.New(nil)
	extractor := extraction.New(
		extraction.WithSentinels(cfg.ExtractionSentinels...),
		extraction.WithLogger(logger),
	)

	deps := api.Deps{
		Logger:        logger,
		Metrics:       m,
		APIKeys:       cfg.APIKeys,
		Extractor:     extractor,
		Expander:      schedule.NewExpander(),
		WindowDays:    cfg.ScheduleWindowDays,
		Prescriptions: prescription.NewManager(prescription.NewRepository(pool, logger), logger, prescription.WithObserver(m)),
		Reminders:     reminder.NewStore(reminder.NewPGRepository(pool), logger),
		Ready:         pool.Ping,
	}

	if cfg.NarrativeConfigured() {
		client, err := narrative.NewClient(narrative.ClientConfig{
			BaseURL: cfg.NarrativeBaseURL,
			APIKey:  cfg.NarrativeAPIKey,
			Model:   cfg.NarrativeModel,
			Timeout: cfg.NarrativeTimeout,
		}, m, logger)
		if err != nil {
			return err
		}
		deps.Narrative = client
		logger.Info("narrative service enabled", zap.String("model", cfg.NarrativeModel))
	}

	if len(cfg.APIKeys) == 0 {
		logger.Warn("API_KEYS is empty; /api/v1 is unauthenticated")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.NarrativeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting medplan API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
