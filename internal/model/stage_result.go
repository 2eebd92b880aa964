package model

import (
	"time"
)

const (
	// StatusPending indicates a unit has not started yet.
	StatusPending = "pending"
	// StatusRunning indicates a unit is actively executing.
	StatusRunning = "running"
	// StatusSuccess marks a successful, published execution.
	StatusSuccess = "success"
	// StatusDegraded marks a published execution produced by a reduced-fidelity
	// substitute such as a pass-through shim.
	StatusDegraded = "degraded"
	// StatusSkipped indicates the unit was already satisfied by a checkpoint.
	StatusSkipped = "skipped"
	// StatusRetrying indicates a transient failure is being retried.
	StatusRetrying = "retrying"
	// StatusFailed marks a fatal failure.
	StatusFailed = "failed"
)

// Outcome is the three-way classification of a single procedure invocation.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable_failure"
	OutcomeFatal     Outcome = "fatal_failure"
)

// StageResult captures the outcome of executing a single plan unit.
type StageResult struct {
	UnitID    string
	Ordinal   int
	Round     int
	Direction string
	Status    string
	Outcome   Outcome
	Message   string
	Attempts  int
	LogPath   string
	Outputs   map[string]string
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

// Completed reports whether the unit reached a terminal state.
func (r StageResult) Completed() bool {
	switch r.Status {
	case StatusSuccess, StatusDegraded, StatusSkipped, StatusFailed:
		return true
	}
	return false
}
