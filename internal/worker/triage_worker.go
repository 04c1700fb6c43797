package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/workflow"
)

const dedupeTTL = 24 * time.Hour

// runner drives one pipeline pass. Satisfied by *workflow.Engine.
type runner interface {
	RunOnce(ctx context.Context, run *domain.WorkflowRun) (workflow.RunResult, error)
}

// Claimer takes and releases the per-ticket dedupe claim. Satisfied by
// *persistence.Redis.
type Claimer interface {
	ClaimOnce(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, key string) error
}

// TriagePool is the retry driver for triage runs. Each accepted event
// gets its own run goroutine; the pool bounds how many execute at
// once and re-drives a run with backoff after retriable failures.
type TriagePool struct {
	engine  runner
	runs    workflow.RunStore
	policy  workflow.RetryPolicy
	dedupe  Claimer
	logger  *zap.Logger
	metrics *observability.Metrics

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// PoolDependencies bundles collaborators for the pool.
type PoolDependencies struct {
	Engine  *workflow.Engine
	Runs    workflow.RunStore
	Policy  workflow.RetryPolicy
	Dedupe  Claimer
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// MaxInFlight bounds concurrently executing runs.
	MaxInFlight int
}

// NewTriagePool constructs the pool.
func NewTriagePool(deps PoolDependencies) *TriagePool {
	maxInFlight := deps.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TriagePool{
		engine:  deps.Engine,
		runs:    deps.Runs,
		policy:  deps.Policy,
		dedupe:  deps.Dedupe,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		sem:     make(chan struct{}, maxInFlight),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit accepts a ticket-created event. Duplicate deliveries of the
// same ticket are dropped via the Redis claim; the step records would
// make a duplicate run harmless anyway, but the claim avoids the
// wasted work. Returns the run id, or "" for a dropped duplicate.
func (p *TriagePool) Submit(ctx context.Context, ticketID string) (string, error) {
	runID := uuid.NewString()
	claimKey := "triage:run:" + ticketID

	claimHeld := false
	if p.dedupe != nil {
		claimed, err := p.dedupe.ClaimOnce(ctx, claimKey, runID, dedupeTTL)
		if err != nil {
			p.logger.Warn("dedupe claim failed; proceeding", zap.String("ticket_id", ticketID), zap.Error(err))
		} else if !claimed {
			p.logger.Info("duplicate triage event dropped", zap.String("ticket_id", ticketID))
			return "", nil
		} else {
			claimHeld = true
		}
	}

	run := &domain.WorkflowRun{
		ID:       runID,
		TicketID: ticketID,
		Status:   domain.RunStatusRunning,
	}
	if err := p.runs.CreateRun(ctx, run); err != nil {
		// Give the claim back so the ticket can be resubmitted before
		// the TTL expires.
		if claimHeld {
			if relErr := p.dedupe.ReleaseClaim(ctx, claimKey); relErr != nil {
				p.logger.Warn("release dedupe claim", zap.String("ticket_id", ticketID), zap.Error(relErr))
			}
		}
		return "", err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("triage run panicked",
					zap.String("run_id", run.ID),
					zap.String("ticket_id", run.TicketID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				p.metrics.RecordRun(string(domain.RunStatusFailed))
				// The pool context may already be gone; the status write
				// must not depend on it.
				if setErr := p.runs.SetRunStatus(context.Background(), run.ID, domain.RunStatusFailed); setErr != nil {
					p.logger.Warn("mark run failed", zap.String("run_id", run.ID), zap.Error(setErr))
				}
			}
		}()
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-p.ctx.Done():
			return
		}
		p.drive(p.ctx, run)
	}()
	return runID, nil
}

// drive re-invokes the engine until the run terminates or the retry
// budget is exhausted. Memoized steps make each re-drive cheap.
func (p *TriagePool) drive(ctx context.Context, run *domain.WorkflowRun) {
	for attempt := 1; ; attempt++ {
		if err := p.runs.IncrementRunAttempts(ctx, run.ID); err != nil {
			p.logger.Warn("record run attempt", zap.String("run_id", run.ID), zap.Error(err))
		}

		result, err := p.engine.RunOnce(ctx, run)
		if err == nil {
			status := domain.RunStatusSucceeded
			if !result.Success {
				status = domain.RunStatusFailed
			}
			p.metrics.RecordRun(string(status))
			p.logger.Info("triage run finished",
				zap.String("run_id", run.ID),
				zap.String("ticket_id", run.TicketID),
				zap.Bool("success", result.Success),
				zap.Int("attempts", attempt))
			return
		}

		if attempt >= p.policy.MaxAttempts {
			p.metrics.RecordRun(string(domain.RunStatusFailed))
			p.logger.Error("triage run exhausted retries",
				zap.String("run_id", run.ID),
				zap.String("ticket_id", run.TicketID),
				zap.Int("attempts", attempt),
				zap.Error(err))
			if setErr := p.runs.SetRunStatus(ctx, run.ID, domain.RunStatusFailed); setErr != nil {
				p.logger.Warn("mark run failed", zap.String("run_id", run.ID), zap.Error(setErr))
			}
			return
		}

		delay := p.policy.Delay(attempt)
		p.logger.Warn("triage run will retry",
			zap.String("run_id", run.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops accepting work on the pool context and waits for
// in-flight runs, up to ctx's deadline.
func (p *TriagePool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	p.cancel()
	return ctx.Err()
}
