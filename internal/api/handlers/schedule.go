package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/domain/reminder"
	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/internal/schedule"
)

// ReminderLister supplies stored reminders when a schedule request names no
// entries.
type ReminderLister interface {
	List(ctx context.Context) ([]reminder.Reminder, error)
}

// OccurrenceObserver records how many occurrences a schedule produced.
type OccurrenceObserver interface {
	ObserveOccurrences(n int)
}

// ScheduleHandler expands entries into a dated plan.
type ScheduleHandler struct {
	expander    *schedule.Expander
	reminders   ReminderLister
	defaultDays int
	observer    OccurrenceObserver
	logger      *zap.Logger
}

// NewScheduleHandler creates a handler. observer may be nil.
func NewScheduleHandler(x *schedule.Expander, reminders ReminderLister, defaultDays int, observer OccurrenceObserver, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{expander: x, reminders: reminders, defaultDays: defaultDays, observer: observer, logger: logger}
}

// Routes returns the handler routes
func (h *ScheduleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Expand)
	r.Get("/clock-table", h.ClockTable)
	return r
}

// ScheduleRequest is the body of POST /schedules. With no entries the stored
// reminders are expanded. An absent Days uses the configured window; an
// explicit value, zero included, is validated as given. ClockTable replaces
// the built-in table for this request only.
type ScheduleRequest struct {
	Entries    []extraction.Entry  `json:"entries,omitempty"`
	Days       *int                `json:"days,omitempty"`
	ClockTable schedule.ClockTable `json:"clock_table,omitempty"`
}

// ScheduleResponse lists occurrences sorted by date and clock time.
type ScheduleResponse struct {
	Days        int                   `json:"days"`
	Occurrences []schedule.Occurrence `json:"occurrences"`
}

// Expand handles POST /schedules
func (h *ScheduleHandler) Expand(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	days := h.defaultDays
	if req.Days != nil {
		days = *req.Days
	}

	entries := req.Entries
	if len(entries) == 0 && h.reminders != nil {
		stored, err := h.reminders.List(r.Context())
		if err != nil {
			fail(w, r, h.logger, "failed to load reminders", err)
			return
		}
		for _, rem := range stored {
			entries = append(entries, rem.Entry())
		}
	}

	occ, err := h.expander.Expand(entries, days, req.ClockTable)
	if err != nil {
		fail(w, r, h.logger, "failed to expand schedule", err)
		return
	}
	if h.observer != nil {
		h.observer.ObserveOccurrences(len(occ))
	}
	respond(w, http.StatusOK, ScheduleResponse{Days: days, Occurrences: occ})
}

// ClockTable handles GET /schedules/clock-table
func (h *ScheduleHandler) ClockTable(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.expander.Table)
}
