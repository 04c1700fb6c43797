package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusCreated    TicketStatus = "CREATED"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketPriority enumerates triage urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// NormalizePriority coerces classifier output to a valid priority.
// Anything outside the known set becomes MEDIUM.
func NormalizePriority(raw string) TicketPriority {
	switch TicketPriority(strings.ToUpper(strings.TrimSpace(raw))) {
	case TicketPriorityLow:
		return TicketPriorityLow
	case TicketPriorityMedium:
		return TicketPriorityMedium
	case TicketPriorityHigh:
		return TicketPriorityHigh
	default:
		return TicketPriorityMedium
	}
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            string
	Title         string
	Description   string
	Status        TicketStatus
	Priority      TicketPriority
	HelpfulNotes  *string
	RelatedSkills []string
	AssignedTo    *string
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Classification is the result of the external AI triage call.
type Classification struct {
	Priority      string   `json:"priority"`
	HelpfulNotes  string   `json:"helpfulNotes"`
	RelatedSkills []string `json:"relatedSkills"`
}
