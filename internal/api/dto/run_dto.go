package dto

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// TriageEventRequest is the intake shape for ticket-created events.
type TriageEventRequest struct {
	TicketID string `json:"ticket_id"`
}

// StepResponse is the observable record of one workflow step.
type StepResponse struct {
	Name      string            `json:"name"`
	Status    domain.StepStatus `json:"status"`
	Attempts  int               `json:"attempts"`
	Value     json.RawMessage   `json:"value,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RunResponse reports a run and its step records.
type RunResponse struct {
	ID        string           `json:"id"`
	TicketID  string           `json:"ticket_id"`
	Status    domain.RunStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Steps     []StepResponse   `json:"steps"`
}
