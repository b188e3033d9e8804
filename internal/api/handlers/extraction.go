package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/extraction"
)

// ExtractionObserver records extraction runs.
type ExtractionObserver interface {
	ObserveExtraction(r extraction.Result, took time.Duration)
}

// ExtractionHandler exposes the extraction cascade.
type ExtractionHandler struct {
	extractor *extraction.Extractor
	observer  ExtractionObserver
	logger    *zap.Logger
}

// NewExtractionHandler creates a handler. observer may be nil.
func NewExtractionHandler(x *extraction.Extractor, observer ExtractionObserver, logger *zap.Logger) *ExtractionHandler {
	return &ExtractionHandler{extractor: x, observer: observer, logger: logger}
}

// Routes returns the handler routes
func (h *ExtractionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Extract)
	r.Get("/sections", h.Sections)
	return r
}

// ExtractRequest is the body of POST /extractions. Section narrows the text
// to one === Title === block before matching.
type ExtractRequest struct {
	Text    string `json:"text"`
	Section string `json:"section,omitempty"`
}

// ExtractResponse carries the result plus the normalized entries.
type ExtractResponse struct {
	extraction.Result
	Entries   []extraction.Entry `json:"entries"`
	Section   string             `json:"section,omitempty"`
	Diagnosis string             `json:"diagnosis,omitempty"`
}

// Extract handles POST /extractions
func (h *ExtractionHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}
	respond(w, http.StatusOK, h.run(req.Text, req.Section))
}

func (h *ExtractionHandler) run(text, section string) ExtractResponse {
	resp := ExtractResponse{}
	resp.Diagnosis, _ = extraction.ExtractDiagnosis(text)

	body := text
	if section != "" {
		if sel, ok := extraction.SelectSection(text, section); ok {
			body = sel
			resp.Section = section
		}
	}

	start := time.Now()
	resp.Result = h.extractor.Extract(body)
	if h.observer != nil {
		h.observer.ObserveExtraction(resp.Result, time.Since(start))
	}
	resp.Entries = resp.Result.Entries()

	h.logger.Debug("extraction finished",
		zap.String("status", string(resp.Status)),
		zap.Int("entries", len(resp.Entries)),
		zap.Int("malformed", resp.Malformed))
	return resp
}

// Sections handles GET /extractions/sections and lists the quick-select
// section names.
func (h *ExtractionHandler) Sections(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string][]string{"sections": extraction.QuickSections})
}
