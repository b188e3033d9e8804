// Package handlers provides HTTP handlers for the planner API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/api/middleware"
	"github.com/drfirst/go-medplan/internal/domain/prescription"
	"github.com/drfirst/go-medplan/internal/domain/reminder"
	"github.com/drfirst/go-medplan/internal/narrative"
	"github.com/drfirst/go-medplan/internal/schedule"
)

const maxBodyBytes = 1 << 20

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	respond(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, prescription.ErrNotFound), errors.Is(err, reminder.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, prescription.ErrInvalidInput),
		errors.Is(err, reminder.ErrInvalidInput),
		errors.Is(err, schedule.ErrInvalidWindow),
		errors.Is(err, schedule.ErrInvalidClockTime),
		errors.Is(err, narrative.ErrInvalidRequest),
		errors.Is(err, narrative.ErrTooFewMedications):
		return http.StatusBadRequest
	case errors.Is(err, prescription.ErrInvalidTransition),
		errors.Is(err, prescription.ErrConstraintViolation),
		errors.Is(err, reminder.ErrAmbiguousKey):
		return http.StatusConflict
	case errors.Is(err, narrative.ErrUnavailable),
		errors.Is(err, narrative.ErrRejected),
		errors.Is(err, narrative.ErrEmptyReply):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error. Server-side failures are logged and their
// detail withheld from the client.
func fail(w http.ResponseWriter, r *http.Request, logger *zap.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg,
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			jsonError(w, msg, status)
			return
		}
	}
	jsonError(w, err.Error(), status)
}
