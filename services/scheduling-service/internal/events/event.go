// Package events carries appointment lifecycle changes from the transactional
// outbox to in-process subscribers, optionally through Kafka.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentCreated   = "appointment.created"
	AppointmentUpdated   = "appointment.updated"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentCompleted = "appointment.completed"
)

// Types lists every published event type; each maps to one Kafka topic.
var Types = []string{AppointmentCreated, AppointmentUpdated, AppointmentCancelled, AppointmentCompleted}

// Event is the envelope written to the outbox and delivered to subscribers.
// Payload is a copy of the change, never a live reference.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CompanyID     string          `json:"company_id"`
	AppointmentID string          `json:"appointment_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func New(eventType, companyID, appointmentID string, occurredAt time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		CompanyID:     companyID,
		AppointmentID: appointmentID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       raw,
	}, nil
}

// AppointmentPayload is the body of every appointment.* event.
type AppointmentPayload struct {
	Action         string     `json:"action"`
	Status         string     `json:"status"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	CustomerID     string     `json:"customer_id"`
	ProfessionalID string     `json:"professional_id"`
	ServiceID      string     `json:"service_id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	PreviousStart  *time.Time `json:"previous_start,omitempty"`
	PreviousEnd    *time.Time `json:"previous_end,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	ActorID        string     `json:"actor_id,omitempty"`
}

func (e Event) AppointmentPayload() (AppointmentPayload, error) {
	var p AppointmentPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// Record is an outbox row awaiting relay.
type Record struct {
	Seq         int64
	Event       Event
	Traceparent string
	Tracestate  string
	Attempts    int
}

// Batch reports what one relay pass did with the records it was handed.
type Batch struct {
	Published    []int64
	DeadLettered []DeadLetter
	// Err stopped the pass; records after the failing one stay queued.
	Err error
}

// DeadLetter is an event taken out of the outbox after too many attempts.
type DeadLetter struct {
	Seq    int64
	Reason string
}
