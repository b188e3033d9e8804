// Package api assembles the HTTP router.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/api/handlers"
	"github.com/drfirst/go-medplan/internal/api/middleware"
	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/internal/observability/metrics"
	"github.com/drfirst/go-medplan/internal/schedule"
)

// Deps are the services the router exposes. Narrative may be nil, in which
// case /analyses is not mounted.
type Deps struct {
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	APIKeys       map[string]string
	Extractor     *extraction.Extractor
	Expander      *schedule.Expander
	WindowDays    int
	Prescriptions handlers.PrescriptionService
	Reminders     handlers.ReminderService
	Narrative     handlers.NarrativeService
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

// NewRouter builds the chi router with the global middleware chain.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("medplan-api"))
	r.Use(middleware.Metrics(d.Metrics))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"medplan-api"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	extractionHandler := handlers.NewExtractionHandler(d.Extractor, d.Metrics, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(d.APIKeys))
		r.Mount("/extractions", extractionHandler.Routes())
		r.Mount("/prescriptions", handlers.NewPrescriptionHandler(d.Prescriptions, d.Extractor, logger).Routes())
		r.Mount("/reminders", handlers.NewReminderHandler(d.Reminders, d.Extractor, d.Metrics, logger).Routes())
		r.Mount("/schedules", handlers.NewScheduleHandler(d.Expander, d.Reminders, d.WindowDays, d.Metrics, logger).Routes())
		if d.Narrative != nil {
			r.Mount("/analyses", handlers.NewAnalysisHandler(d.Narrative, extractionHandler, logger).Routes())
		}
	})

	return r
}
