package domain

import (
	"encoding/json"
	"time"
)

// RunStatus enumerates workflow run states.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)

// StepStatus enumerates per-step outcomes within a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusSucceeded StepStatus = "SUCCEEDED"
	StepStatusFailed    StepStatus = "FAILED"
)

// WorkflowRun tracks one triage pipeline execution for a ticket-created
// event. Retries of the same event re-drive the same run.
type WorkflowRun struct {
	ID        string
	TicketID  string
	Status    RunStatus
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepRecord is the durable outcome of a named step within a run.
// Once SUCCEEDED its Value is immutable; re-drives return it without
// re-invoking the step's work.
type StepRecord struct {
	RunID     string
	Name      string
	Status    StepStatus
	Attempts  int
	Value     json.RawMessage
	LastError string
	UpdatedAt time.Time
}
