package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

type fakeTicketRepo struct {
	created        []*domain.Ticket
	byID           map[string]*domain.Ticket
	listByCreator  []domain.Ticket
	listAll        []domain.Ticket
	creatorQueried string
	listAllCalls   int
}

func (f *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	ticket.ID = "8d0f4c4f-0f9f-4f67-8a57-2a0c3a4d5e6f"
	f.created = append(f.created, ticket)
	return nil
}

func (f *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return t, nil
}

func (f *fakeTicketRepo) ListByCreator(_ context.Context, userID string, _, _ int) ([]domain.Ticket, error) {
	f.creatorQueried = userID
	return f.listByCreator, nil
}

func (f *fakeTicketRepo) ListAll(context.Context, int, int) ([]domain.Ticket, error) {
	f.listAllCalls++
	return f.listAll, nil
}

func (f *fakeTicketRepo) ApplyClassification(context.Context, string, domain.TicketPriority, string, []string) error {
	return nil
}

func (f *fakeTicketRepo) SetAssignee(context.Context, string, *string) error { return nil }

type fakeSubmitter struct {
	submitted []string
	err       error
}

func (f *fakeSubmitter) Submit(_ context.Context, ticketID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, ticketID)
	return "run-" + ticketID, nil
}

func TestCreateTicketSubmitsTriage(t *testing.T) {
	repo := &fakeTicketRepo{}
	submitter := &fakeSubmitter{}
	dispatcher := events.NewInMemoryDispatcher()

	var created []events.Event
	dispatcher.Subscribe(events.EventTicketCreated, func(_ context.Context, ev events.Event) error {
		created = append(created, ev)
		return nil
	})

	svc := NewTicketService(TicketDependencies{TicketRepo: repo, Triage: submitter, Dispatcher: dispatcher})
	ticket, err := svc.CreateTicket(context.Background(), "user-1", TicketCreateInput{
		Title:       "  Printer offline  ",
		Description: "The 3rd floor printer stopped responding",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if ticket.Title != "Printer offline" {
		t.Fatalf("title must be trimmed, got %q", ticket.Title)
	}
	if ticket.Status != domain.TicketStatusCreated || ticket.Priority != domain.TicketPriorityMedium {
		t.Fatalf("unexpected defaults: %s / %s", ticket.Status, ticket.Priority)
	}
	if len(submitter.submitted) != 1 || submitter.submitted[0] != ticket.ID {
		t.Fatalf("triage not submitted for new ticket: %v", submitter.submitted)
	}
	if len(created) != 1 {
		t.Fatalf("expected one created event, got %d", len(created))
	}
}

func TestCreateTicketValidation(t *testing.T) {
	svc := NewTicketService(TicketDependencies{TicketRepo: &fakeTicketRepo{}})

	cases := []TicketCreateInput{
		{Title: "", Description: "body"},
		{Title: "title", Description: "   "},
	}
	for _, input := range cases {
		_, err := svc.CreateTicket(context.Background(), "user-1", input)
		var domainErr *apperrors.DomainError
		if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_FAILED" {
			t.Fatalf("expected validation failure for %+v, got %v", input, err)
		}
	}
}

func TestCreateTicketSurvivesSubmitFailure(t *testing.T) {
	repo := &fakeTicketRepo{}
	submitter := &fakeSubmitter{err: errors.New("redis unavailable")}
	svc := NewTicketService(TicketDependencies{TicketRepo: repo, Triage: submitter})

	ticket, err := svc.CreateTicket(context.Background(), "user-1", TicketCreateInput{
		Title:       "Printer offline",
		Description: "No response",
	})
	if err == nil {
		t.Fatalf("expected submit failure surfaced")
	}
	if ticket == nil {
		t.Fatalf("the persisted ticket must still be returned")
	}
}

func TestGetTicketScopesByRole(t *testing.T) {
	owned := &domain.Ticket{ID: "t-1", CreatedBy: "user-1"}
	foreign := &domain.Ticket{ID: "t-2", CreatedBy: "user-2"}
	repo := &fakeTicketRepo{byID: map[string]*domain.Ticket{"t-1": owned, "t-2": foreign}}
	svc := NewTicketService(TicketDependencies{TicketRepo: repo})

	regular := &domain.User{ID: "user-1", Role: domain.UserRoleUser}
	if _, err := svc.GetTicketForUser(context.Background(), regular, "t-1"); err != nil {
		t.Fatalf("owner must see own ticket: %v", err)
	}

	_, err := svc.GetTicketForUser(context.Background(), regular, "t-2")
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("foreign ticket must read as not found, got %v", err)
	}

	moderator := &domain.User{ID: "mod-1", Role: domain.UserRoleModerator}
	if _, err := svc.GetTicketForUser(context.Background(), moderator, "t-2"); err != nil {
		t.Fatalf("moderator must see any ticket: %v", err)
	}
}

func TestGetTicketMissingMapsToNotFound(t *testing.T) {
	repo := &fakeTicketRepo{byID: map[string]*domain.Ticket{}}
	svc := NewTicketService(TicketDependencies{TicketRepo: repo})

	_, err := svc.GetTicketForUser(context.Background(), &domain.User{ID: "u", Role: domain.UserRoleAdmin}, "missing")
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestListTicketsScopesByRole(t *testing.T) {
	repo := &fakeTicketRepo{
		listByCreator: []domain.Ticket{{ID: "t-1"}},
		listAll:       []domain.Ticket{{ID: "t-1"}, {ID: "t-2"}},
	}
	svc := NewTicketService(TicketDependencies{TicketRepo: repo})

	own, err := svc.ListTicketsForUser(context.Background(), &domain.User{ID: "user-1", Role: domain.UserRoleUser}, 20, 0)
	if err != nil {
		t.Fatalf("list own: %v", err)
	}
	if len(own) != 1 || repo.creatorQueried != "user-1" {
		t.Fatalf("regular users must only list their own tickets")
	}

	all, err := svc.ListTicketsForUser(context.Background(), &domain.User{ID: "adm-1", Role: domain.UserRoleAdmin}, 20, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || repo.listAllCalls != 1 {
		t.Fatalf("admins must list all tickets")
	}
}
