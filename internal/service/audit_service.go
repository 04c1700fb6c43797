package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/events"
)

// AuditService logs every triage lifecycle event, giving operators a
// trace of how far each pipeline progressed.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	return &AuditService{dispatcher: dispatcher, logger: logger}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventTicketCreated, a.handle)
	a.dispatcher.Subscribe(events.EventTicketClassified, a.handle)
	a.dispatcher.Subscribe(events.EventTicketAssigned, a.handle)
	a.dispatcher.Subscribe(events.EventTriageCompleted, a.handle)
	a.dispatcher.Subscribe(events.EventTriageFailed, a.handle)
}

func (a *AuditService) handle(_ context.Context, event events.Event) error {
	a.logger.Info("triage event",
		zap.String("type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.Any("payload", event.Payload))
	return nil
}
