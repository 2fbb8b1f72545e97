package models

import "time"

// RunState is the pipeline run state machine. A run moves
// PENDING → FETCHING → ANALYZING → COMPOSING → DELIVERING → DONE,
// or ends PARTIAL when one or more accounts failed irrecoverably.
type RunState string

const (
	RunPending    RunState = "pending"
	RunFetching   RunState = "fetching"
	RunAnalyzing  RunState = "analyzing"
	RunComposing  RunState = "composing"
	RunDelivering RunState = "delivering"
	RunDone       RunState = "done"
	RunPartial    RunState = "partial"
	RunFailed     RunState = "failed"
)

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	return s == RunDone || s == RunPartial || s == RunFailed
}

// InProgress reports whether a run in this state blocks a new trigger
// for the same period.
func (s RunState) InProgress() bool {
	return !s.Terminal()
}

// RunTrigger identifies how a run was started.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
	TriggerPreview   RunTrigger = "preview"
)

// Run is one execution of the pipeline for a period. Persisted on
// every state transition so a restart can detect in-flight runs.
type Run struct {
	ID          string     `json:"id"`
	Period      Period     `json:"period"`
	State       RunState   `json:"state"`
	Trigger     RunTrigger `json:"trigger"`
	Preview     bool       `json:"preview"`
	TriggeredAt time.Time  `json:"triggered_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`

	AccountsTotal     int              `json:"accounts_total"`
	AccountsSucceeded int              `json:"accounts_succeeded"`
	AnomaliesDetected int              `json:"anomalies_detected"`
	Failures          []AccountFailure `json:"failures,omitempty"`
	Error             string           `json:"error,omitempty"`
}
