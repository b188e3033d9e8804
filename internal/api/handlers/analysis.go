package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/narrative"
)

// NarrativeService is the external text service.
type NarrativeService interface {
	narrative.Analyzer
	CheckInteractions(ctx context.Context, medications []string) (string, error)
}

// AnalysisHandler sends patient data to the text service and extracts the
// medication plan from its reply.
type AnalysisHandler struct {
	svc        NarrativeService
	extraction *ExtractionHandler
	logger     *zap.Logger
}

// NewAnalysisHandler creates a handler.
func NewAnalysisHandler(svc NarrativeService, x *ExtractionHandler, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{svc: svc, extraction: x, logger: logger}
}

// Routes returns the handler routes
func (h *AnalysisHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Analyze)
	r.Post("/interactions", h.Interactions)
	return r
}

// AnalysisResponse carries the raw narrative and its extraction.
type AnalysisResponse struct {
	Narrative  string          `json:"narrative"`
	Extraction ExtractResponse `json:"extraction"`
}

// Analyze handles POST /analyses
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req narrative.Request
	if !decode(w, r, &req) {
		return
	}
	text, err := h.svc.Analyze(r.Context(), req)
	if err != nil {
		fail(w, r, h.logger, "analysis failed", err)
		return
	}
	respond(w, http.StatusOK, AnalysisResponse{
		Narrative:  text,
		Extraction: h.extraction.run(text, narrative.MedicationSection),
	})
}

// InteractionRequest is the body of POST /analyses/interactions.
type InteractionRequest struct {
	Medications []string `json:"medications"`
}

// Interactions handles POST /analyses/interactions
func (h *AnalysisHandler) Interactions(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if !decode(w, r, &req) {
		return
	}
	text, err := h.svc.CheckInteractions(r.Context(), req.Medications)
	if err != nil {
		fail(w, r, h.logger, "interaction check failed", err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"analysis": text})
}
