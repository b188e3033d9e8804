package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/api/middleware"
	"github.com/drfirst/go-medplan/internal/domain/prescription"
	"github.com/drfirst/go-medplan/internal/extraction"
)

// PrescriptionService is the record manager as seen by the API.
type PrescriptionService interface {
	Create(ctx context.Context, header prescription.Prescription, items []prescription.Item) (*prescription.Prescription, error)
	Update(ctx context.Context, number string, header prescription.Prescription, items []prescription.Item) (*prescription.Prescription, error)
	Delete(ctx context.Context, number string) error
	ListAll(ctx context.Context) ([]prescription.Prescription, error)
	Get(ctx context.Context, number string) (*prescription.Prescription, []prescription.Item, error)
	Transition(ctx context.Context, number string, to prescription.Status) (*prescription.Prescription, error)
}

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	svc       PrescriptionService
	extractor *extraction.Extractor
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(svc PrescriptionService, x *extraction.Extractor, logger *zap.Logger) *PrescriptionHandler {
	return &PrescriptionHandler{
		svc:       svc,
		extractor: x,
		logger:    logger,
		tracer:    otel.Tracer("prescription-handler"),
	}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/options", h.Options)
	r.Post("/draft", h.Draft)
	r.Get("/{number}", h.Get)
	r.Put("/{number}", h.Update)
	r.Delete("/{number}", h.Delete)
	r.Post("/{number}/status", h.Transition)
	return r
}

// PrescriptionBody is the request body for create and update.
type PrescriptionBody struct {
	Prescription prescription.Prescription `json:"prescription"`
	Items        []prescription.Item       `json:"items"`
}

// PrescriptionView is a header with its items and display labels.
type PrescriptionView struct {
	prescription.Prescription
	Items         []prescription.Item `json:"items,omitempty"`
	StatusLabel   string              `json:"status_label"`
	TypeLabel     string              `json:"type_label"`
	CategoryLabel string              `json:"category_label"`
}

func view(p prescription.Prescription, items []prescription.Item) PrescriptionView {
	return PrescriptionView{
		Prescription:  p,
		Items:         items,
		StatusLabel:   p.Status.Label(),
		TypeLabel:     p.Type.Label(),
		CategoryLabel: p.Category.Label(),
	}
}

// List handles GET /prescriptions, newest issue date first.
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.ListAll(r.Context())
	if err != nil {
		fail(w, r, h.logger, "failed to list prescriptions", err)
		return
	}
	out := make([]PrescriptionView, 0, len(all))
	for _, p := range all {
		out = append(out, view(p, nil))
	}
	respond(w, http.StatusOK, out)
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_prescription")
	defer span.End()

	var body PrescriptionBody
	if !decode(w, r, &body) {
		return
	}

	p, err := h.svc.Create(ctx, body.Prescription, body.Items)
	if err != nil {
		span.RecordError(err)
		fail(w, r, h.logger, "failed to save prescription", err)
		return
	}
	span.SetAttributes(attribute.String("prescription_number", p.Number))

	h.logger.Info("prescription created",
		zap.String("number", p.Number),
		zap.Int("items", len(body.Items)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.String("client_id", middleware.GetClientID(ctx)))

	_, items, err := h.svc.Get(ctx, p.Number)
	if err != nil {
		items = nil
	}
	respond(w, http.StatusCreated, view(*p, items))
}

// Get handles GET /prescriptions/{number}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, items, err := h.svc.Get(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		fail(w, r, h.logger, "failed to load prescription", err)
		return
	}
	respond(w, http.StatusOK, view(*p, items))
}

// Update handles PUT /prescriptions/{number}. Items are replaced wholesale.
func (h *PrescriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "update_prescription")
	defer span.End()

	var body PrescriptionBody
	if !decode(w, r, &body) {
		return
	}

	number := chi.URLParam(r, "number")
	p, err := h.svc.Update(ctx, number, body.Prescription, body.Items)
	if err != nil {
		span.RecordError(err)
		fail(w, r, h.logger, "failed to update prescription", err)
		return
	}

	h.logger.Info("prescription updated",
		zap.String("number", number),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	respond(w, http.StatusOK, view(*p, body.Items))
}

// Delete handles DELETE /prescriptions/{number}
func (h *PrescriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if err := h.svc.Delete(r.Context(), number); err != nil {
		fail(w, r, h.logger, "failed to delete prescription", err)
		return
	}
	h.logger.Info("prescription deleted",
		zap.String("number", number),
		zap.String("request_id", middleware.GetRequestID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

// TransitionRequest is the body of POST /prescriptions/{number}/status.
type TransitionRequest struct {
	Status prescription.Status `json:"status"`
}

// Transition handles POST /prescriptions/{number}/status
func (h *PrescriptionHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		jsonError(w, "unknown status "+string(req.Status), http.StatusBadRequest)
		return
	}

	p, err := h.svc.Transition(r.Context(), chi.URLParam(r, "number"), req.Status)
	if err != nil {
		fail(w, r, h.logger, "failed to change status", err)
		return
	}
	respond(w, http.StatusOK, view(*p, nil))
}

// DraftRequest is the body of POST /prescriptions/draft.
type DraftRequest struct {
	Text    string `json:"text"`
	Section string `json:"section,omitempty"`
}

// DraftResponse is an unsaved prescription built from a narrative.
type DraftResponse struct {
	Prescription prescription.Prescription `json:"prescription"`
	Items        []prescription.Item       `json:"items"`
	Status       extraction.Status         `json:"extraction_status"`
}

// Draft handles POST /prescriptions/draft. Nothing is persisted.
func (h *PrescriptionHandler) Draft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}

	section := req.Section
	if section == "" {
		section = extraction.QuickSections[0]
	}
	body := req.Text
	if sel, ok := extraction.SelectSection(req.Text, section); ok {
		body = sel
	}

	res := h.extractor.Extract(body)
	diagnosis, _ := extraction.ExtractDiagnosis(req.Text)

	respond(w, http.StatusOK, DraftResponse{
		Prescription: prescription.Prescription{
			Type:      prescription.TypeOrdinary,
			Category:  prescription.CategoryWestern,
			Diagnosis: diagnosis,
			Status:    prescription.StatusUnfilled,
		},
		Items:  prescription.DraftFromEntries(res.Entries()),
		Status: res.Status,
	})
}

type option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Options handles GET /prescriptions/options
func (h *PrescriptionHandler) Options(w http.ResponseWriter, r *http.Request) {
	types := []prescription.Type{prescription.TypeOrdinary, prescription.TypeEmergency, prescription.TypePediatric, prescription.TypeControlled}
	cats := []prescription.Category{prescription.CategoryWestern, prescription.CategoryPatentChinese, prescription.CategoryHerbal}
	statuses := []prescription.Status{prescription.StatusUnfilled, prescription.StatusDispensing, prescription.StatusDispensed, prescription.StatusVoided}

	out := map[string]interface{}{
		"insurance_types":   prescription.InsuranceTypes,
		"departments":       prescription.Departments,
		"prescriber_titles": prescription.PrescriberTitles,
		"units":             prescription.Units,
	}
	var opts []option
	for _, t := range types {
		opts = append(opts, option{string(t), t.Label()})
	}
	out["types"] = opts
	opts = nil
	for _, c := range cats {
		opts = append(opts, option{string(c), c.Label()})
	}
	out["categories"] = opts
	opts = nil
	for _, s := range statuses {
		opts = append(opts, option{string(s), s.Label()})
	}
	out["statuses"] = opts

	respond(w, http.StatusOK, out)
}
