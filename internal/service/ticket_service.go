package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/repository"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// TriageSubmitter accepts a ticket-created event for asynchronous
// processing. Implemented by the worker pool.
type TriageSubmitter interface {
	Submit(ctx context.Context, ticketID string) (string, error)
}

// TicketService coordinates ticket CRUD and hands new tickets to the
// triage pipeline.
type TicketService struct {
	tickets    repository.TicketRepository
	triage     TriageSubmitter
	dispatcher events.Dispatcher
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Triage     TriageSubmitter
	Dispatcher events.Dispatcher
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:    deps.TicketRepo,
		triage:     deps.Triage,
		dispatcher: deps.Dispatcher,
	}
}

// CreateTicket persists a ticket and kicks off its triage run.
func (s *TicketService) CreateTicket(ctx context.Context, userID string, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}

	ticket := &domain.Ticket{
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusCreated,
		Priority:    domain.TicketPriorityMedium,
		CreatedBy:   userID,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publishCreated(ctx, ticket)

	if s.triage != nil {
		if _, err := s.triage.Submit(ctx, ticket.ID); err != nil {
			// The ticket exists; triage can be re-driven later via the
			// event intake endpoint.
			return ticket, apperrors.MapError(err)
		}
	}
	return ticket, nil
}

// GetTicketForUser fetches a ticket. Regular users only see their own
// tickets; moderators and admins see everything.
func (s *TicketService) GetTicketForUser(ctx context.Context, user *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if user.Role == domain.UserRoleUser && ticket.CreatedBy != user.ID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// ListTicketsForUser returns tickets visible to the caller, newest
// first.
func (s *TicketService) ListTicketsForUser(ctx context.Context, user *domain.User, limit, offset int) ([]domain.Ticket, error) {
	if user.Role == domain.UserRoleUser {
		tickets, err := s.tickets.ListByCreator(ctx, user.ID, limit, offset)
		return tickets, apperrors.MapError(err)
	}
	tickets, err := s.tickets.ListAll(ctx, limit, offset)
	return tickets, apperrors.MapError(err)
}

func (s *TicketService) publishCreated(ctx context.Context, ticket *domain.Ticket) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketCreated,
		TicketID:  ticket.ID,
		Timestamp: time.Now(),
		Payload: events.TicketCreatedPayload{
			Title:     ticket.Title,
			CreatedBy: ticket.CreatedBy,
		},
	})
}
