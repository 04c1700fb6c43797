package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/workflow"
)

type driveOutcome struct {
	result workflow.RunResult
	err    error
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	outcomes []driveOutcome
	block    chan struct{}
	active   int
	peak     int
}

func (r *fakeRunner) RunOnce(_ context.Context, _ *domain.WorkflowRun) (workflow.RunResult, error) {
	r.mu.Lock()
	r.calls++
	idx := r.calls - 1
	if idx >= len(r.outcomes) {
		idx = len(r.outcomes) - 1
	}
	out := r.outcomes[idx]
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	block := r.block
	r.mu.Unlock()

	if block != nil {
		<-block
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return out.result, out.err
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeClaimer struct {
	mu       sync.Mutex
	grants   []bool
	claimErr error
	claims   int
	keys     []string
	released []string
}

func (c *fakeClaimer) ClaimOnce(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims++
	c.keys = append(c.keys, key)
	if c.claimErr != nil {
		return false, c.claimErr
	}
	idx := c.claims - 1
	if idx >= len(c.grants) {
		idx = len(c.grants) - 1
	}
	return c.grants[idx], nil
}

func (c *fakeClaimer) ReleaseClaim(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, key)
	return nil
}

type failingRunStore struct {
	*workflow.MemoryRunStore
	createErr error
}

func (s *failingRunStore) CreateRun(ctx context.Context, run *domain.WorkflowRun) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryRunStore.CreateRun(ctx, run)
}

type panickingRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *panickingRunner) RunOnce(context.Context, *domain.WorkflowRun) (workflow.RunResult, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	panic("nil ticket dereference")
}

func newTestPool(engine runner, store workflow.RunStore, policy workflow.RetryPolicy, maxInFlight int) *TriagePool {
	ctx, cancel := context.WithCancel(context.Background())
	return &TriagePool{
		engine:  engine,
		runs:    store,
		policy:  policy,
		logger:  zap.NewNop(),
		metrics: observability.NewMetrics(),
		sem:     make(chan struct{}, maxInFlight),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func millisPolicy(maxAttempts int) workflow.RetryPolicy {
	return workflow.RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     time.Millisecond,
		Strategy:    workflow.BackoffFixed,
	}
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	store := workflow.NewMemoryRunStore()
	engine := &fakeRunner{outcomes: []driveOutcome{
		{err: errors.New("classifier timeout")},
		{err: errors.New("classifier timeout")},
		{result: workflow.RunResult{Success: true, Notified: true}},
	}}
	pool := newTestPool(engine, store, millisPolicy(3), 4)
	defer pool.cancel()

	runID, err := pool.Submit(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if runID == "" {
		t.Fatalf("expected run id for accepted event")
	}
	pool.wg.Wait()

	if got := engine.callCount(); got != 3 {
		t.Fatalf("expected 3 drives, got %d", got)
	}
	run, _ := store.GetRun(context.Background(), runID)
	if run == nil || run.Attempts != 3 {
		t.Fatalf("expected 3 recorded attempts, got %+v", run)
	}
}

func TestPoolExhaustionMarksRunFailed(t *testing.T) {
	store := workflow.NewMemoryRunStore()
	engine := &fakeRunner{outcomes: []driveOutcome{
		{err: errors.New("persistent outage")},
	}}
	pool := newTestPool(engine, store, millisPolicy(3), 4)
	defer pool.cancel()

	runID, err := pool.Submit(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	pool.wg.Wait()

	if got := engine.callCount(); got != 3 {
		t.Fatalf("retry budget is 3, got %d drives", got)
	}
	run, _ := store.GetRun(context.Background(), runID)
	if run == nil || run.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED run after exhaustion, got %+v", run)
	}
}

func TestPoolAbortedRunIsNotRetried(t *testing.T) {
	store := workflow.NewMemoryRunStore()
	// Engine reports non-retriable aborts as {Success:false} with a nil
	// error. The driver must treat that as terminal.
	engine := &fakeRunner{outcomes: []driveOutcome{
		{result: workflow.RunResult{Success: false}},
	}}
	pool := newTestPool(engine, store, millisPolicy(3), 4)
	defer pool.cancel()

	if _, err := pool.Submit(context.Background(), "ticket-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	pool.wg.Wait()

	if got := engine.callCount(); got != 1 {
		t.Fatalf("aborted run must not be re-driven, got %d drives", got)
	}
}

func TestPoolBoundsInFlightRuns(t *testing.T) {
	store := workflow.NewMemoryRunStore()
	block := make(chan struct{})
	engine := &fakeRunner{
		outcomes: []driveOutcome{{result: workflow.RunResult{Success: true}}},
		block:    block,
	}
	pool := newTestPool(engine, store, millisPolicy(1), 2)
	defer pool.cancel()

	for i := 0; i < 5; i++ {
		if _, err := pool.Submit(context.Background(), "ticket-1"); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		engine.mu.Lock()
		active := engine.active
		engine.mu.Unlock()
		if active == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pool never reached its in-flight bound, active=%d", active)
		case <-time.After(time.Millisecond):
		}
	}

	close(block)
	pool.wg.Wait()

	engine.mu.Lock()
	peak := engine.peak
	engine.mu.Unlock()
	if peak > 2 {
		t.Fatalf("in-flight bound exceeded: peak %d", peak)
	}
	if got := engine.callCount(); got != 5 {
		t.Fatalf("all submissions must eventually drive, got %d", got)
	}
}

func TestPoolSubmitWithoutDedupeAlwaysAccepts(t *testing.T) {
	store := workflow.NewMemoryRunStore()
	engine := &fakeRunner{outcomes: []driveOutcome{{result: workflow.RunResult{Success: true}}}}
	pool := newTestPool(engine, store, millisPolicy(1), 4)
	defer pool.cancel()

	first, err := pool.Submit(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := pool.Submit(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first == "" || second == "" || first == second {
		t.Fatalf("expected distinct run ids without a dedupe store, got %q / %q", first, second)
	}
	pool.wg.Wait()
}

func TestPoolDropsDuplicateSubmissions(t *testing.T) {
	store := workflow.NewMemoryRunStore()
	engine := &fakeRunner{outcomes: []driveOutcome{{result: workflow.RunResult{Success: true}}}}
	claimer := &fakeClaimer{grants: []bool{true, false}}
	pool := newTestPool(engine, store, millisPolicy(1), 4)
	pool.dedupe = claimer
	defer pool.cancel()

	first, err := pool.Submit(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first == "" {
		t.Fatalf("first delivery must be accepted")
	}

	second, err := pool.Submit(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("duplicate submit must not error: %v", err)
	}
	if second != "" {
		t.Fatalf("lost claim must drop the duplicate, got run id %q", second)
	}
	pool.wg.Wait()

	if got := engine.callCount(); got != 1 {
		t.Fatalf("duplicate must not be driven, got %d drives", got)
	}
	run, _ := store.GetRun(context.Background(), first)
	if run == nil {
		t.Fatalf("accepted run must exist")
	}
	if len(claimer.keys) != 2 || claimer.keys[0] != "triage:run:ticket-1" {
		t.Fatalf("unexpected claim keys: %v", claimer.keys)
	}
}

func TestPoolClaimErrorFailsOpen(t *testing.T) {
	store := workflow.NewMemoryRunStore()
	engine := &fakeRunner{outcomes: []driveOutcome{{result: workflow.RunResult{Success: true}}}}
	claimer := &fakeClaimer{claimErr: errors.New("redis connection refused")}
	pool := newTestPool(engine, store, millisPolicy(1), 4)
	pool.dedupe = claimer
	defer pool.cancel()

	runID, err := pool.Submit(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("claim outage must not reject the event: %v", err)
	}
	if runID == "" {
		t.Fatalf("expected the event accepted despite the claim error")
	}
	pool.wg.Wait()

	if got := engine.callCount(); got != 1 {
		t.Fatalf("expected the run driven, got %d drives", got)
	}
}

func TestPoolReleasesClaimWhenCreateRunFails(t *testing.T) {
	store := &failingRunStore{
		MemoryRunStore: workflow.NewMemoryRunStore(),
		createErr:      errors.New("connection reset"),
	}
	engine := &fakeRunner{outcomes: []driveOutcome{{result: workflow.RunResult{Success: true}}}}
	claimer := &fakeClaimer{grants: []bool{true}}
	pool := newTestPool(engine, store, millisPolicy(1), 4)
	pool.dedupe = claimer
	defer pool.cancel()

	if _, err := pool.Submit(context.Background(), "ticket-1"); err == nil {
		t.Fatalf("expected CreateRun failure surfaced")
	}
	if len(claimer.released) != 1 || claimer.released[0] != "triage:run:ticket-1" {
		t.Fatalf("failed submission must release its claim, got %v", claimer.released)
	}
	if got := engine.callCount(); got != 0 {
		t.Fatalf("nothing must be driven after a failed submission")
	}
}

func TestPoolRecoversFromPanickingRun(t *testing.T) {
	store := workflow.NewMemoryRunStore()
	engine := &panickingRunner{}
	pool := newTestPool(engine, store, millisPolicy(3), 4)
	defer pool.cancel()

	runID, err := pool.Submit(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	pool.wg.Wait()

	run, _ := store.GetRun(context.Background(), runID)
	if run == nil || run.Status != domain.RunStatusFailed {
		t.Fatalf("panicked run must be marked FAILED, got %+v", run)
	}

	// The pool itself must survive and keep accepting work.
	engine.mu.Lock()
	engine.calls = 0
	engine.mu.Unlock()
	if _, err := pool.Submit(context.Background(), "ticket-2"); err != nil {
		t.Fatalf("submit after panic: %v", err)
	}
	pool.wg.Wait()
	engine.mu.Lock()
	calls := engine.calls
	engine.mu.Unlock()
	if calls == 0 {
		t.Fatalf("pool must keep driving runs after a recovered panic")
	}
}

func TestPoolShutdownWaitsForInFlight(t *testing.T) {
	store := workflow.NewMemoryRunStore()
	block := make(chan struct{})
	engine := &fakeRunner{
		outcomes: []driveOutcome{{result: workflow.RunResult{Success: true}}},
		block:    block,
	}
	pool := newTestPool(engine, store, millisPolicy(1), 2)

	if _, err := pool.Submit(context.Background(), "ticket-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- pool.Shutdown(ctx)
	}()

	select {
	case <-done:
		t.Fatalf("shutdown returned while a run was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("shutdown after drain: %v", err)
	}
}
