package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/domain/reminder"
	"github.com/drfirst/go-medplan/internal/extraction"
)

// ReminderService is the reminder store as seen by the API.
type ReminderService interface {
	UpsertFromEntries(ctx context.Context, entries []extraction.Entry) (*reminder.UpsertResult, error)
	Create(ctx context.Context, r reminder.Reminder) (*reminder.Reminder, error)
	List(ctx context.Context) ([]reminder.Reminder, error)
	Get(ctx context.Context, id int64) (*reminder.Reminder, error)
	Find(ctx context.Context, k reminder.Key) ([]reminder.Reminder, error)
	Update(ctx context.Context, id int64, r reminder.Reminder) (*reminder.Reminder, error)
	Delete(ctx context.Context, id int64) error
	UpdateByKey(ctx context.Context, k reminder.Key, r reminder.Reminder) (*reminder.Reminder, error)
	DeleteByKey(ctx context.Context, k reminder.Key) error
	BatchUpdate(ctx context.Context, ids []int64, p reminder.Patch) (int64, error)
}

// UpsertObserver records bulk import outcomes.
type UpsertObserver interface {
	ObserveReminderUpsert(inserted int)
}

// ReminderHandler handles reminder endpoints
type ReminderHandler struct {
	svc       ReminderService
	extractor *extraction.Extractor
	observer  UpsertObserver
	logger    *zap.Logger
}

// NewReminderHandler creates a handler. observer may be nil.
func NewReminderHandler(svc ReminderService, x *extraction.Extractor, observer UpsertObserver, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{svc: svc, extractor: x, observer: observer, logger: logger}
}

// Routes returns the handler routes
func (h *ReminderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/import", h.Import)
	r.Patch("/batch", h.Batch)
	r.Put("/by-key", h.UpdateByKey)
	r.Delete("/by-key", h.DeleteByKey)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	return r
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "invalid reminder id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// List handles GET /reminders. name, dosage and timing query parameters
// filter by natural key when all three are given.
func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		out []reminder.Reminder
		err error
	)
	if q.Has("name") && q.Has("dosage") && q.Has("timing") {
		out, err = h.svc.Find(r.Context(), reminder.Key{
			MedicineName: q.Get("name"),
			Dosage:       q.Get("dosage"),
			Timing:       q.Get("timing"),
		})
	} else {
		out, err = h.svc.List(r.Context())
	}
	if err != nil {
		fail(w, r, h.logger, "failed to list reminders", err)
		return
	}
	if out == nil {
		out = []reminder.Reminder{}
	}
	respond(w, http.StatusOK, out)
}

// Create handles POST /reminders
func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body reminder.Reminder
	if !decode(w, r, &body) {
		return
	}
	saved, err := h.svc.Create(r.Context(), body)
	if err != nil {
		fail(w, r, h.logger, "failed to save reminder", err)
		return
	}
	respond(w, http.StatusCreated, saved)
}

// ImportRequest is the body of POST /reminders/import: either raw narrative
// text or already extracted entries.
type ImportRequest struct {
	Text    string             `json:"text,omitempty"`
	Section string             `json:"section,omitempty"`
	Entries []extraction.Entry `json:"entries,omitempty"`
}

// Import handles POST /reminders/import
func (h *ReminderHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decode(w, r, &req) {
		return
	}

	entries := req.Entries
	if len(entries) == 0 && strings.TrimSpace(req.Text) != "" {
		body := req.Text
		if req.Section != "" {
			if sel, ok := extraction.SelectSection(req.Text, req.Section); ok {
				body = sel
			}
		}
		entries = h.extractor.Extract(body).Entries()
	}
	if len(entries) == 0 {
		jsonError(w, "no medication entries found", http.StatusUnprocessableEntity)
		return
	}

	res, err := h.svc.UpsertFromEntries(r.Context(), entries)
	if err != nil {
		fail(w, r, h.logger, "failed to import reminders", err)
		return
	}
	if h.observer != nil {
		h.observer.ObserveReminderUpsert(len(res.Inserted))
	}
	respond(w, http.StatusOK, res)
}

// Get handles GET /reminders/{id}
func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rem, err := h.svc.Get(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, "failed to load reminder", err)
		return
	}
	respond(w, http.StatusOK, rem)
}

// Update handles PUT /reminders/{id}
func (h *ReminderHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var body reminder.Reminder
	if !decode(w, r, &body) {
		return
	}
	saved, err := h.svc.Update(r.Context(), id, body)
	if err != nil {
		fail(w, r, h.logger, "failed to update reminder", err)
		return
	}
	respond(w, http.StatusOK, saved)
}

// Delete handles DELETE /reminders/{id}
func (h *ReminderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		fail(w, r, h.logger, "failed to delete reminder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KeyedUpdate is the body of PUT /reminders/by-key.
type KeyedUpdate struct {
	Key      reminder.Key      `json:"key"`
	Reminder reminder.Reminder `json:"reminder"`
}

// UpdateByKey handles PUT /reminders/by-key. It fails with 409 when the key
// matches more than one reminder.
func (h *ReminderHandler) UpdateByKey(w http.ResponseWriter, r *http.Request) {
	var body KeyedUpdate
	if !decode(w, r, &body) {
		return
	}
	saved, err := h.svc.UpdateByKey(r.Context(), body.Key, body.Reminder)
	if err != nil {
		fail(w, r, h.logger, "failed to update reminder", err)
		return
	}
	respond(w, http.StatusOK, saved)
}

// DeleteByKey handles DELETE /reminders/by-key with the key as the body.
func (h *ReminderHandler) DeleteByKey(w http.ResponseWriter, r *http.Request) {
	var k reminder.Key
	if !decode(w, r, &k) {
		return
	}
	if err := h.svc.DeleteByKey(r.Context(), k); err != nil {
		fail(w, r, h.logger, "failed to delete reminder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchRequest is the body of PATCH /reminders/batch.
type BatchRequest struct {
	IDs []int64 `json:"ids"`
	reminder.Patch
}

// Batch handles PATCH /reminders/batch
func (h *ReminderHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.svc.BatchUpdate(r.Context(), req.IDs, req.Patch)
	if err != nil {
		fail(w, r, h.logger, "failed to update reminders", err)
		return
	}
	respond(w, http.StatusOK, map[string]int64{"updated": n})
}
