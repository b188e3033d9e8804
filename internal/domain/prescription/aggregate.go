// Package prescription implements the prescription header/line-item model,
// its status lifecycle and the transactional record manager.
package prescription

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents prescription status
type Status string

const (
	StatusUnfilled   Status = "unfilled"
	StatusDispensing Status = "dispensing"
	StatusDispensed  Status = "dispensed"
	StatusVoided     Status = "voided"
)

// Type is the regulatory class of a prescription.
type Type string

const (
	TypeOrdinary   Type = "ordinary"
	TypeEmergency  Type = "emergency"
	TypePediatric  Type = "pediatric"
	TypeControlled Type = "controlled"
)

// Category is the pharmacological family a prescription draws from.
type Category string

const (
	CategoryWestern       Category = "western"
	CategoryPatentChinese Category = "patent_chinese"
	CategoryHerbal        Category = "herbal"
)

// Display labels as printed on paper prescriptions.
var (
	statusLabels = map[Status]string{
		StatusUnfilled:   "未调配",
		StatusDispensing: "调配中",
		StatusDispensed:  "已发药",
		StatusVoided:     "已作废",
	}
	typeLabels = map[Type]string{
		TypeOrdinary:   "普通处方",
		TypeEmergency:  "急诊处方",
		TypePediatric:  "儿科处方",
		TypeControlled: "毒麻处方",
	}
	categoryLabels = map[Category]string{
		CategoryWestern:       "西药处方",
		CategoryPatentChinese: "中成药处方",
		CategoryHerbal:        "中药处方",
	}
)

// Option lists offered by prescription entry forms. Values outside them are
// accepted as free text.
var (
	InsuranceTypes   = []string{"城镇职工医保", "城镇居民医保", "新农合", "自费"}
	Departments      = []string{"内科", "外科", "儿科", "妇科", "急诊科"}
	PrescriberTitles = []string{"主任医师", "副主任医师", "主治医师", "住院医师"}
	Units            = []string{"盒", "瓶", "支", "片", "粒", "袋"}
)

// Label returns the display label.
func (s Status) Label() string { return statusLabels[s] }

// Label returns the display label.
func (t Type) Label() string { return typeLabels[t] }

// Label returns the display label.
func (c Category) Label() string { return categoryLabels[c] }

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := typeLabels[t]
	return ok
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Patient is the demographic snapshot taken when the prescription is written.
type Patient struct {
	Name   string  `json:"name"`
	Gender string  `json:"gender"`
	Age    int     `json:"age"`
	Weight float64 `json:"weight"`
}

// Prescription is the header record. It exclusively owns its Items.
type Prescription struct {
	ID              int64     `json:"id"`
	Number          string    `json:"prescription_number"`
	Type            Type      `json:"type"`
	Category        Category  `json:"category"`
	IssueDate       time.Time `json:"issue_date"`
	Validity        string    `json:"validity,omitempty"`
	Patient         Patient   `json:"patient"`
	InsuranceType   string    `json:"insurance_type"`
	Diagnosis       string    `json:"diagnosis"`
	PrescriberName  string    `json:"prescriber_name"`
	PrescriberTitle string    `json:"prescriber_title"`
	FacilityName    string    `json:"facility_name"`
	Department      string    `json:"department"`
	Status          Status    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Item is one line of a prescription.
type Item struct {
	ID             int64  `json:"id"`
	PrescriptionID int64  `json:"prescription_id"`
	Position       int    `json:"position"`
	MedicineName   string `json:"medicine_name"`
	Specification  string `json:"specification"`
	Dosage         string `json:"dosage"`
	Frequency      string `json:"frequency"`
	Quantity       int    `json:"quantity"`
	Unit           string `json:"unit"`
	UsageMethod    string `json:"usage_method"`
	Notes          string `json:"notes,omitempty"`
}

var (
	ErrNotFound            = errors.New("prescription not found")
	ErrInvalidInput        = errors.New("invalid prescription")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConstraintViolation = errors.New("persistence constraint violation")
	ErrItemsRemain         = errors.New("prescription items remain after delete")
)

// transitions lists the allowed next states. States absent from the map are
// terminal.
var transitions = map[Status][]Status{
	StatusUnfilled:   {StatusDispensing, StatusVoided},
	StatusDispensing: {StatusDispensed, StatusVoided},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition moves the header to the requested status or returns
// ErrInvalidTransition leaving it unchanged.
func (p *Prescription) Transition(to Status, at time.Time) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = at
	return nil
}

// Validate checks the header fields callers may set.
func (p *Prescription) Validate() error {
	var problems []string
	if !p.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown type %q", p.Type))
	}
	if !p.Category.Valid() {
		problems = append(problems, fmt.Sprintf("unknown category %q", p.Category))
	}
	if strings.TrimSpace(p.Patient.Name) == "" {
		problems = append(problems, "patient name is required")
	}
	if p.Patient.Age < 0 || p.Patient.Weight < 0 {
		problems = append(problems, "patient age and weight must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks a line item.
func (it *Item) Validate() error {
	if strings.TrimSpace(it.MedicineName) == "" {
		return fmt.Errorf("%w: item medicine name is required", ErrInvalidInput)
	}
	if it.Quantity <= 0 {
		return fmt.Errorf("%w: item %q quantity must be positive", ErrInvalidInput, it.MedicineName)
	}
	return nil
}

// NumberAt derives the prescription number for a creation instant.
func NumberAt(t time.Time) string {
	return "RX" + t.Format("20060102150405")
}
