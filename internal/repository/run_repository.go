package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/workflow"
)

// runRepository is the Postgres-backed workflow.RunStore. Step records
// are keyed by (run_id, name), which is what makes memoization hold
// across process restarts and event redelivery.
type runRepository struct {
	pool *pgxpool.Pool
}

var _ workflow.RunStore = (*runRepository)(nil)

// NewRunRepository returns a Postgres-backed workflow.RunStore.
func NewRunRepository(pool *pgxpool.Pool) workflow.RunStore {
	return &runRepository{pool: pool}
}

func (r *runRepository) CreateRun(ctx context.Context, run *domain.WorkflowRun) error {
	const query = `
        INSERT INTO workflow_runs (id, ticket_id, status, attempts)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		run.ID,
		run.TicketID,
		run.Status,
		run.Attempts,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
}

func (r *runRepository) GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	const query = `
        SELECT id, ticket_id, status, attempts, created_at, updated_at
        FROM workflow_runs WHERE id=$1`
	var run domain.WorkflowRun
	if err := r.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.TicketID,
		&run.Status,
		&run.Attempts,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) SetRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	const query = `UPDATE workflow_runs SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, status, runID)
	return err
}

func (r *runRepository) IncrementRunAttempts(ctx context.Context, runID string) error {
	const query = `UPDATE workflow_runs SET attempts=attempts+1, updated_at=NOW() WHERE id=$1`
	_, err := r.pool.Exec(ctx, query, runID)
	return err
}

func (r *runRepository) GetStep(ctx context.Context, runID, name string) (*domain.StepRecord, error) {
	const query = `
        SELECT run_id, name, status, attempts, value, last_error, updated_at
        FROM workflow_steps WHERE run_id=$1 AND name=$2`
	var rec domain.StepRecord
	if err := r.pool.QueryRow(ctx, query, runID, name).Scan(
		&rec.RunID,
		&rec.Name,
		&rec.Status,
		&rec.Attempts,
		&rec.Value,
		&rec.LastError,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *runRepository) SaveStep(ctx context.Context, rec *domain.StepRecord) error {
	const query = `
        INSERT INTO workflow_steps (run_id, name, status, attempts, value, last_error)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (run_id, name) DO UPDATE
        SET status=EXCLUDED.status, attempts=EXCLUDED.attempts,
            value=EXCLUDED.value, last_error=EXCLUDED.last_error, updated_at=NOW()`
	_, err := r.pool.Exec(ctx, query,
		rec.RunID,
		rec.Name,
		rec.Status,
		rec.Attempts,
		rec.Value,
		rec.LastError,
	)
	return err
}

func (r *runRepository) ListSteps(ctx context.Context, runID string) ([]domain.StepRecord, error) {
	const query = `
        SELECT run_id, name, status, attempts, value, last_error, updated_at
        FROM workflow_steps WHERE run_id=$1 ORDER BY updated_at`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StepRecord
	for rows.Next() {
		var rec domain.StepRecord
		if err := rows.Scan(
			&rec.RunID,
			&rec.Name,
			&rec.Status,
			&rec.Attempts,
			&rec.Value,
			&rec.LastError,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
