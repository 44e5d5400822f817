package model

import "time"

// RecordStatus is a persisted per-record pipeline outcome. The full state
// machine is unprocessed, normalizing, resolving, then one of the states
// below; the transient states are never written since a batch processes each
// record in one step. Unprocessed is the absence of a state row. Rejected
// and upsert_failed records stay eligible for a later run.
type RecordStatus string

const (
	RecordRejected     RecordStatus = "rejected"
	RecordUpserted     RecordStatus = "upserted"
	RecordUpsertFailed RecordStatus = "upsert_failed"
)

// RunStatus is the lifecycle of one batch run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// RunSummary aggregates per-outcome counts for one batch run.
// The orchestrator always completes a batch and returns a summary,
// even if every record failed.
type RunSummary struct {
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// RunEntry is one row of the pipeline run log.
type RunEntry struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     RunSummary `json:"summary"`
	Error       string     `json:"error,omitempty"`
}
