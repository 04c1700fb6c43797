package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// RunStore persists workflow runs and their per-step records. The step
// executor consults it before invoking work, which is what makes step
// memoization survive re-delivery of the same event.
//
// GetStep returns (nil, nil) when no record exists for (runID, name).
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.WorkflowRun) error
	GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error)
	SetRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	IncrementRunAttempts(ctx context.Context, runID string) error
	GetStep(ctx context.Context, runID, name string) (*domain.StepRecord, error)
	SaveStep(ctx context.Context, rec *domain.StepRecord) error
	ListSteps(ctx context.Context, runID string) ([]domain.StepRecord, error)
}

// MemoryRunStore is a process-local RunStore backing tests. It has no
// crash durability; the service itself uses the Postgres-backed store.
type MemoryRunStore struct {
	mu    sync.RWMutex
	runs  map[string]domain.WorkflowRun
	steps map[string]map[string]domain.StepRecord
}

// NewMemoryRunStore builds an empty in-memory store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:  make(map[string]domain.WorkflowRun),
		steps: make(map[string]map[string]domain.StepRecord),
	}
}

func (s *MemoryRunStore) CreateRun(_ context.Context, run *domain.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryRunStore) GetRun(_ context.Context, runID string) (*domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := run
	return &copied, nil
}

func (s *MemoryRunStore) SetRunStatus(_ context.Context, runID string, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	run.Status = status
	run.UpdatedAt = time.Now()
	s.runs[runID] = run
	return nil
}

func (s *MemoryRunStore) IncrementRunAttempts(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	run.Attempts++
	run.UpdatedAt = time.Now()
	s.runs[runID] = run
	return nil
}

func (s *MemoryRunStore) GetStep(_ context.Context, runID, name string) (*domain.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.steps[runID][name]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (s *MemoryRunStore) SaveStep(_ context.Context, rec *domain.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.steps[rec.RunID]
	if !ok {
		byName = make(map[string]domain.StepRecord)
		s.steps[rec.RunID] = byName
	}
	rec.UpdatedAt = time.Now()
	byName[rec.Name] = *rec
	return nil
}

func (s *MemoryRunStore) ListSteps(_ context.Context, runID string) ([]domain.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := s.steps[runID]
	out := make([]domain.StepRecord, 0, len(byName))
	for _, rec := range byName {
		out = append(out, rec)
	}
	return out, nil
}
