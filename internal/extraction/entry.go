package extraction

import (
	"errors"
	"strings"
)

// Labels prefixed to each sub-note when an entry's notes are assembled.
const (
	ExplanatoryLabel = "说明："
	CautionLabel     = "注意："
)

// ErrIncompleteEntry is returned when a candidate lacks a name or dosage.
var ErrIncompleteEntry = errors.New("medication entry requires name and dosage")

// Entry is a validated medication record ready for persistence.
type Entry struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
	Timing string `json:"timing"`
	Notes  string `json:"notes"`
}

// NewEntry normalizes a candidate.
func NewEntry(c Candidate) (Entry, error) {
	e := Entry{
		Name:   strings.TrimSpace(c.Name),
		Dosage: strings.TrimSpace(c.DosageAndUsage),
		Timing: strings.TrimSpace(c.FrequencyOrTiming),
		Notes:  JoinNotes(c.ExplanatoryNote, c.CautionNote),
	}
	if e.Name == "" || e.Dosage == "" {
		return Entry{}, ErrIncompleteEntry
	}
	return e, nil
}

// Entries normalizes candidates, skipping any that fail validation.
func Entries(candidates []Candidate) []Entry {
	out := make([]Entry, 0, len(candidates))
	for _, c := range candidates {
		e, err := NewEntry(c)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

// JoinNotes labels each non-empty note and joins them with a newline.
func JoinNotes(explanatory, caution string) string {
	var parts []string
	if s := strings.TrimSpace(explanatory); s != "" {
		parts = append(parts, ExplanatoryLabel+s)
	}
	if s := strings.TrimSpace(caution); s != "" {
		parts = append(parts, CautionLabel+s)
	}
	return strings.Join(parts, "\n")
}
