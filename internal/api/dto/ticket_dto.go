package dto

import (
	"time"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// CreateTicketRequest payload for ticket submission.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TicketSummary is the list representation of a ticket.
type TicketSummary struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Status    domain.TicketStatus   `json:"status"`
	Priority  domain.TicketPriority `json:"priority"`
	CreatedAt time.Time             `json:"created_at"`
}

// TicketDetailResponse is the full ticket representation.
type TicketDetailResponse struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	HelpfulNotes  *string               `json:"helpful_notes,omitempty"`
	RelatedSkills []string              `json:"related_skills"`
	AssignedTo    *string               `json:"assigned_to,omitempty"`
	CreatedBy     string                `json:"created_by"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}
