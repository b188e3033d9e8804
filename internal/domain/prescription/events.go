package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventsTopic is the stream prescription events are relayed to.
const EventsTopic = "prescription.events"

// EventType represents the type of domain event
type EventType string

const (
	EventPrescriptionCreated       EventType = "PrescriptionCreated"
	EventPrescriptionUpdated       EventType = "PrescriptionUpdated"
	EventPrescriptionDeleted       EventType = "PrescriptionDeleted"
	EventPrescriptionStatusChanged EventType = "PrescriptionStatusChanged"
)

// Event is a domain event written to the outbox in the same transaction as
// the change it describes.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent creates an event keyed by prescription number.
func NewEvent(number string, eventType EventType, data interface{}, at time.Time) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   number,
		AggregateType: "Prescription",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     at.UTC(),
	}, nil
}

// SavedData is carried by created and updated events.
type SavedData struct {
	Prescription Prescription `json:"prescription"`
	Items        []Item       `json:"items"`
}

// DeletedData is carried by deleted events.
type DeletedData struct {
	PrescriptionNumber string `json:"prescription_number"`
	ItemsRemoved       int64  `json:"items_removed"`
}

// StatusChangedData is carried by status transition events.
type StatusChangedData struct {
	PrescriptionNumber string `json:"prescription_number"`
	From               Status `json:"from"`
	To                 Status `json:"to"`
}
