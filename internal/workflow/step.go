package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/observability"
)

// Executor wraps named units of work with durable memoization and
// failure classification.
type Executor struct {
	runs        RunStore
	logger      *zap.Logger
	metrics     *observability.Metrics
	callTimeout time.Duration
}

// NewExecutor builds a step executor. callTimeout bounds each work
// invocation; zero disables the bound.
func NewExecutor(runs RunStore, logger *zap.Logger, metrics *observability.Metrics, callTimeout time.Duration) *Executor {
	return &Executor{
		runs:        runs,
		logger:      logger,
		metrics:     metrics,
		callTimeout: callTimeout,
	}
}

// Step runs work at most meaningfully once per run. A recorded
// SUCCEEDED outcome for (run, name) short-circuits without invoking
// work again; otherwise work runs and its result is persisted.
//
// A non-retriable failure is recorded as FAILED and propagated so the
// run aborts. A retriable failure leaves the step unfinished: the
// error is propagated to the retry driver and a later re-drive of the
// run re-invokes work for this step only.
func Step[T any](ctx context.Context, ex *Executor, run *domain.WorkflowRun, name string, work func(context.Context) (T, error)) (T, error) {
	var zero T

	rec, err := ex.runs.GetStep(ctx, run.ID, name)
	if err != nil {
		return zero, fmt.Errorf("load step %q: %w", name, err)
	}
	if rec != nil && rec.Status == domain.StepStatusSucceeded {
		var memo T
		if err := json.Unmarshal(rec.Value, &memo); err != nil {
			return zero, NonRetriablef("decode memoized step %q: %v", name, err)
		}
		ex.logger.Debug("step memoized",
			zap.String("run_id", run.ID),
			zap.String("step", name))
		return memo, nil
	}

	attempts := 1
	if rec != nil {
		attempts = rec.Attempts + 1
	}

	workCtx := ctx
	if ex.callTimeout > 0 {
		var cancel context.CancelFunc
		workCtx, cancel = context.WithTimeout(ctx, ex.callTimeout)
		defer cancel()
	}

	value, err := work(workCtx)
	if err != nil {
		status := domain.StepStatusPending
		outcome := "retriable"
		if IsNonRetriable(err) {
			status = domain.StepStatusFailed
			outcome = "failed"
		}
		if saveErr := ex.runs.SaveStep(ctx, &domain.StepRecord{
			RunID:     run.ID,
			Name:      name,
			Status:    status,
			Attempts:  attempts,
			LastError: err.Error(),
		}); saveErr != nil {
			ex.logger.Warn("record step failure",
				zap.String("run_id", run.ID),
				zap.String("step", name),
				zap.Error(saveErr))
		}
		ex.metrics.RecordStep(name, outcome)
		ex.logger.Warn("step failed",
			zap.String("run_id", run.ID),
			zap.String("step", name),
			zap.Int("attempts", attempts),
			zap.String("outcome", outcome),
			zap.Error(err))
		return zero, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return zero, NonRetriablef("encode step %q result: %v", name, err)
	}
	if err := ex.runs.SaveStep(ctx, &domain.StepRecord{
		RunID:    run.ID,
		Name:     name,
		Status:   domain.StepStatusSucceeded,
		Attempts: attempts,
		Value:    raw,
	}); err != nil {
		// The work already ran; without a durable record the step will
		// re-execute on the next drive, so surface this as retriable.
		return zero, fmt.Errorf("record step %q: %w", name, err)
	}
	ex.metrics.RecordStep(name, "ok")
	return value, nil
}
