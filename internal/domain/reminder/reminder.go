// Package reminder stores standalone medication reminders. Rows carry a
// surrogate id; the (medicine, dosage, timing) tuple is accepted as a lookup
// filter but never silently updates more than one row.
package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drfirst/go-medplan/internal/extraction"
)

var (
	ErrNotFound     = errors.New("reminder not found")
	ErrAmbiguousKey = errors.New("reminder key matches more than one row")
	ErrInvalidInput = errors.New("invalid reminder")
)

// Reminder is one persisted medication reminder.
type Reminder struct {
	ID           int64     `json:"id"`
	MedicineName string    `json:"medicine_name"`
	Dosage       string    `json:"dosage"`
	Timing       string    `json:"timing"`
	Notes        string    `json:"notes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key is the natural identity of a reminder.
type Key struct {
	MedicineName string `json:"medicine_name"`
	Dosage       string `json:"dosage"`
	Timing       string `json:"timing"`
}

// Key returns the reminder's natural key.
func (r Reminder) Key() Key {
	return Key{MedicineName: r.MedicineName, Dosage: r.Dosage, Timing: r.Timing}
}

// Entry converts the reminder back to an extraction entry, which is what the
// schedule expander consumes.
func (r Reminder) Entry() extraction.Entry {
	return extraction.Entry{Name: r.MedicineName, Dosage: r.Dosage, Timing: r.Timing, Notes: r.Notes}
}

// FromEntry builds an unsaved reminder from an extracted entry.
func FromEntry(e extraction.Entry) Reminder {
	return Reminder{MedicineName: e.Name, Dosage: e.Dosage, Timing: e.Timing, Notes: e.Notes}
}

// Validate checks that name and dosage are present.
func (r *Reminder) Validate() error {
	r.MedicineName = strings.TrimSpace(r.MedicineName)
	r.Dosage = strings.TrimSpace(r.Dosage)
	r.Timing = strings.TrimSpace(r.Timing)
	if r.MedicineName == "" || r.Dosage == "" {
		return fmt.Errorf("%w: medicine name and dosage are required", ErrInvalidInput)
	}
	return nil
}

// Patch is a partial update applied by BatchUpdate. Nil fields are left as is.
type Patch struct {
	Timing *string `json:"timing,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Timing == nil && p.Notes == nil
}

// Apply writes the patch onto r.
func (p Patch) Apply(r *Reminder) {
	if p.Timing != nil {
		r.Timing = strings.TrimSpace(*p.Timing)
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
}
