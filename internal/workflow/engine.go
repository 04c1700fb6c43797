package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/observability"
)

// Step names, in pipeline order. Records are keyed by these, so they
// are part of the durable schema.
const (
	StepFetchTicket           = "fetch-ticket"
	StepClassify              = "classify"
	StepPersistClassification = "persist-classification"
	StepAssignModerator       = "assign-moderator"
	StepNotify                = "notify"
)

const notifySubject = "Ticket Assigned"

// TicketStore is the narrow ticket persistence surface the pipeline
// consumes. GetByID returns pgx.ErrNoRows when the ticket is missing.
type TicketStore interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ApplyClassification(ctx context.Context, id string, priority domain.TicketPriority, helpfulNotes string, relatedSkills []string) error
	SetAssignee(ctx context.Context, id string, userID *string) error
}

// Classifier calls the external AI service. A usable result comes back
// as a non-nil Classification; "no opinion" is the typed miss
// (nil, nil), never an error.
type Classifier interface {
	Classify(ctx context.Context, title, description string) (*domain.Classification, error)
}

// AssigneeResolver picks a moderator (or fallback admin) for the given
// skill tags. No eligible candidate is (nil, nil), a successful outcome.
type AssigneeResolver interface {
	Resolve(ctx context.Context, relatedSkills []string) (*domain.User, error)
}

// Notifier delivers the assignment notification.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Assignee is the memoized hand-off between the assignment and
// notification steps.
type Assignee struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// RunResult is what one drive of the pipeline reports to its caller.
type RunResult struct {
	Success  bool
	Notified bool
}

// Engine executes the fixed five-step triage pipeline for one
// ticket-created event.
type Engine struct {
	exec       *Executor
	runs       RunStore
	tickets    TicketStore
	classifier Classifier
	resolver   AssigneeResolver
	notifier   Notifier
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// EngineDependencies bundles collaborators for the engine.
type EngineDependencies struct {
	Runs       RunStore
	Tickets    TicketStore
	Classifier Classifier
	Resolver   AssigneeResolver
	Notifier   Notifier
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	// CallTimeout bounds each external call made by a step.
	CallTimeout time.Duration
}

// NewEngine constructs the engine.
func NewEngine(deps EngineDependencies) *Engine {
	return &Engine{
		exec:       NewExecutor(deps.Runs, deps.Logger, deps.Metrics, deps.CallTimeout),
		runs:       deps.Runs,
		tickets:    deps.Tickets,
		classifier: deps.Classifier,
		resolver:   deps.Resolver,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
	}
}

// RunOnce drives the pipeline for run. Completed steps are skipped via
// their memoized records, so re-driving after a retriable failure only
// re-attempts unfinished steps.
//
// A non-retriable failure marks the run FAILED and reports
// {Success: false} with a nil error: there is nothing left to retry. A
// retriable failure returns a non-nil error so the driver can re-invoke
// RunOnce after a backoff delay.
func (e *Engine) RunOnce(ctx context.Context, run *domain.WorkflowRun) (RunResult, error) {
	ticket, err := Step(ctx, e.exec, run, StepFetchTicket, func(ctx context.Context) (domain.Ticket, error) {
		if _, parseErr := uuid.Parse(run.TicketID); parseErr != nil {
			return domain.Ticket{}, NonRetriablef("invalid ticket id %q", run.TicketID)
		}
		found, getErr := e.tickets.GetByID(ctx, run.TicketID)
		if getErr != nil {
			if errors.Is(getErr, pgx.ErrNoRows) {
				return domain.Ticket{}, NonRetriablef("ticket %s not found", run.TicketID)
			}
			return domain.Ticket{}, getErr
		}
		return *found, nil
	})
	if err != nil {
		return e.abortOrRetry(ctx, run, err)
	}

	classification, err := Step(ctx, e.exec, run, StepClassify, func(ctx context.Context) (*domain.Classification, error) {
		return e.classifier.Classify(ctx, ticket.Title, ticket.Description)
	})
	if err != nil {
		return e.abortOrRetry(ctx, run, err)
	}

	relatedSkills, err := Step(ctx, e.exec, run, StepPersistClassification, func(ctx context.Context) ([]string, error) {
		if classification == nil {
			e.logger.Warn("classification unavailable; skipping AI update",
				zap.String("run_id", run.ID),
				zap.String("ticket_id", ticket.ID))
			return []string{}, nil
		}
		priority := domain.NormalizePriority(classification.Priority)
		if updErr := e.tickets.ApplyClassification(ctx, ticket.ID, priority, classification.HelpfulNotes, classification.RelatedSkills); updErr != nil {
			return nil, updErr
		}
		e.publish(ctx, events.EventTicketClassified, ticket.ID, events.TicketClassifiedPayload{
			Priority:      priority,
			RelatedSkills: classification.RelatedSkills,
		})
		return classification.RelatedSkills, nil
	})
	if err != nil {
		return e.abortOrRetry(ctx, run, err)
	}

	assignee, err := Step(ctx, e.exec, run, StepAssignModerator, func(ctx context.Context) (*Assignee, error) {
		user, resErr := e.resolver.Resolve(ctx, relatedSkills)
		if resErr != nil {
			return nil, resErr
		}
		var userID *string
		var out *Assignee
		if user != nil {
			userID = &user.ID
			out = &Assignee{ID: user.ID, Email: user.Email}
		}
		if updErr := e.tickets.SetAssignee(ctx, ticket.ID, userID); updErr != nil {
			return nil, updErr
		}
		e.publish(ctx, events.EventTicketAssigned, ticket.ID, events.TicketAssignedPayload{
			AssigneeID: userID,
		})
		return out, nil
	})
	if err != nil {
		return e.abortOrRetry(ctx, run, err)
	}

	notified, err := Step(ctx, e.exec, run, StepNotify, func(ctx context.Context) (bool, error) {
		if assignee == nil {
			e.logger.Warn("no assignee; skipping notification",
				zap.String("run_id", run.ID),
				zap.String("ticket_id", ticket.ID))
			return false, nil
		}
		// Re-fetch so the mail carries the latest title even if the
		// ticket was edited while the run was in flight.
		fresh, getErr := e.tickets.GetByID(ctx, ticket.ID)
		if getErr != nil {
			if errors.Is(getErr, pgx.ErrNoRows) {
				return false, NonRetriablef("ticket %s disappeared before notification", ticket.ID)
			}
			return false, getErr
		}
		if sendErr := e.notifier.Send(ctx, assignee.Email, notifySubject, "A new ticket is assigned to you: "+fresh.Title); sendErr != nil {
			return false, sendErr
		}
		return true, nil
	})
	if err != nil {
		return e.abortOrRetry(ctx, run, err)
	}

	if err := e.runs.SetRunStatus(ctx, run.ID, domain.RunStatusSucceeded); err != nil {
		return RunResult{}, err
	}
	e.publish(ctx, events.EventTriageCompleted, run.TicketID, events.TriageCompletedPayload{
		RunID:    run.ID,
		Notified: notified,
	})
	return RunResult{Success: true, Notified: notified}, nil
}

// abortOrRetry converts a step failure into the run-level outcome.
func (e *Engine) abortOrRetry(ctx context.Context, run *domain.WorkflowRun, err error) (RunResult, error) {
	if !IsNonRetriable(err) {
		return RunResult{}, err
	}
	e.logger.Error("triage run aborted",
		zap.String("run_id", run.ID),
		zap.String("ticket_id", run.TicketID),
		zap.Error(err))
	if setErr := e.runs.SetRunStatus(ctx, run.ID, domain.RunStatusFailed); setErr != nil {
		e.logger.Warn("mark run failed", zap.String("run_id", run.ID), zap.Error(setErr))
	}
	e.publish(ctx, events.EventTriageFailed, run.TicketID, events.TriageFailedPayload{
		RunID:  run.ID,
		Reason: err.Error(),
	})
	return RunResult{Success: false}, nil
}

func (e *Engine) publish(ctx context.Context, eventType events.EventType, ticketID string, payload any) {
	if e.dispatcher == nil {
		return
	}
	_ = e.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
