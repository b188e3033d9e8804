// Package schedule expands medication entries into dated, timed occurrences.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/drfirst/go-medplan/internal/extraction"
)

// Window bounds, in days.
const (
	MinWindowDays = 1
	MaxWindowDays = 365
)

// DefaultSlot is used for descriptors the clock table does not recognise.
const DefaultSlot = "08:00"

var (
	// ErrInvalidWindow is returned for a window outside [MinWindowDays, MaxWindowDays].
	ErrInvalidWindow = errors.New("window days out of range")
	// ErrInvalidClockTime is returned when a clock table holds a malformed time.
	ErrInvalidClockTime = errors.New("invalid clock time")
)

var clockTimePattern = regexp.MustCompile(`^([01]\d|2[0-4]):[0-5]\d$`)

// ClockTable maps a frequency descriptor to the clock times it expands to.
// Times are "HH:MM"; "24:00" is allowed for end-of-day doses.
type ClockTable map[string][]string

// DefaultClockTable returns the built-in descriptor table.
func DefaultClockTable() ClockTable {
	once := []string{"08:00"}
	twice := []string{"08:00", "20:00"}
	thrice := []string{"08:00", "14:00", "20:00"}
	four := []string{"06:00", "12:00", "18:00", "24:00"}
	return ClockTable{
		"once daily":        once,
		"twice daily":       twice,
		"three times daily": thrice,
		"four times daily":  four,
		"every 6 hours":     four,

		"每日一次":   once,
		"每日两次":   twice,
		"每日三次":   thrice,
		"每日四次":   four,
		"每6小时一次": four,
	}
}

// Validate checks every clock time in the table.
func (t ClockTable) Validate() error {
	for desc, times := range t {
		if len(times) == 0 {
			return fmt.Errorf("%w: %q has no times", ErrInvalidClockTime, desc)
		}
		for _, ct := range times {
			if !clockTimePattern.MatchString(ct) {
				return fmt.Errorf("%w: %q for %q", ErrInvalidClockTime, ct, desc)
			}
		}
	}
	return nil
}

// Resolve returns the clock times for a descriptor. An exact match wins;
// otherwise the longest table key contained in the descriptor is used, so
// "每日三次（饭后）" resolves like "每日三次". Unknown descriptors get DefaultSlot.
func (t ClockTable) Resolve(descriptor string) []string {
	d := normalizeDescriptor(descriptor)
	if d == "" {
		return []string{DefaultSlot}
	}

	keys := make([]string, 0, len(t))
	for k := range t {
		nk := normalizeDescriptor(k)
		if nk == d {
			return sortedTimes(t[k])
		}
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if nk := normalizeDescriptor(k); nk != "" && strings.Contains(d, nk) {
			return sortedTimes(t[k])
		}
	}
	return []string{DefaultSlot}
}

func normalizeDescriptor(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func sortedTimes(times []string) []string {
	out := append([]string(nil), times...)
	sort.Strings(out)
	return out
}

// Occurrence is one concrete dose at a date and clock time.
type Occurrence struct {
	Date         time.Time `json:"date"`
	ClockTime    string    `json:"clock_time"`
	MedicineName string    `json:"medicine_name"`
	Dosage       string    `json:"dosage"`
	Notes        string    `json:"notes,omitempty"`
}

// Day returns the occurrence date as YYYY-MM-DD.
func (o Occurrence) Day() string {
	return o.Date.Format("2006-01-02")
}

// Expand emits one occurrence per entry, per day in [start, start+windowDays),
// per resolved clock time, sorted by (date, clock time). A nil table means
// DefaultClockTable. The result depends only on the arguments.
func Expand(start time.Time, entries []extraction.Entry, windowDays int, table ClockTable) ([]Occurrence, error) {
	if windowDays < MinWindowDays || windowDays > MaxWindowDays {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidWindow, windowDays, MinWindowDays, MaxWindowDays)
	}
	if table == nil {
		table = DefaultClockTable()
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	day0 := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	resolved := make([][]string, len(entries))
	total := 0
	for i, e := range entries {
		resolved[i] = table.Resolve(e.Timing)
		total += len(resolved[i]) * windowDays
	}

	out := make([]Occurrence, 0, total)
	for d := 0; d < windowDays; d++ {
		date := day0.AddDate(0, 0, d)
		for i, e := range entries {
			for _, ct := range resolved[i] {
				out = append(out, Occurrence{
					Date:         date,
					ClockTime:    ct,
					MedicineName: e.Name,
					Dosage:       e.Dosage,
					Notes:        e.Notes,
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ClockTime < out[j].ClockTime
	})
	return out, nil
}

// Expander binds a clock table and a clock for repeated expansion.
type Expander struct {
	Table ClockTable
	Now   func() time.Time
}

// NewExpander returns an Expander over the default table and wall clock.
func NewExpander() *Expander {
	return &Expander{Table: DefaultClockTable(), Now: time.Now}
}

// Expand runs Expand starting today. A non-nil override replaces the table
// for this call only.
func (x *Expander) Expand(entries []extraction.Entry, windowDays int, override ClockTable) ([]Occurrence, error) {
	table := x.Table
	if override != nil {
		table = override
	}
	now := time.Now
	if x.Now != nil {
		now = x.Now
	}
	return Expand(now(), entries, windowDays, table)
}
