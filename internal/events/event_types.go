package events

import (
	"time"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated    EventType = "ticket_created"
	EventTicketClassified EventType = "ticket_classified"
	EventTicketAssigned   EventType = "ticket_assigned"
	EventTriageCompleted  EventType = "triage_completed"
	EventTriageFailed     EventType = "triage_failed"
)

// Event represents a domain event emitted by the triage pipeline.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Title     string `json:"title"`
	CreatedBy string `json:"created_by"`
}

// TicketClassifiedPayload payload.
type TicketClassifiedPayload struct {
	Priority      domain.TicketPriority `json:"priority"`
	RelatedSkills []string              `json:"related_skills"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeID *string `json:"assignee_id,omitempty"`
}

// TriageCompletedPayload payload.
type TriageCompletedPayload struct {
	RunID    string `json:"run_id"`
	Notified bool   `json:"notified"`
}

// TriageFailedPayload payload.
type TriageFailedPayload struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}
