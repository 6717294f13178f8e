// Package models defines the data structures shared by the ESCO ingestion pipeline.
package models

// IngestionState is the canonical state of the ingestion pipeline.
type IngestionState string

const (
	StateNotStarted IngestionState = "not_started"
	StateInProgress IngestionState = "in_progress"
	StateCompleted  IngestionState = "completed"
	StateFailed     IngestionState = "failed"
	StateUnknown    IngestionState = "unknown"
)

// ParseIngestionState maps a raw status string to an IngestionState.
// Matching is exact; anything else, including case variants, maps to StateUnknown.
func ParseIngestionState(s string) IngestionState {
	switch IngestionState(s) {
	case StateNotStarted:
		return StateNotStarted
	case StateInProgress:
		return StateInProgress
	case StateCompleted:
		return StateCompleted
	case StateFailed:
		return StateFailed
	default:
		return StateUnknown
	}
}

// IsTerminal reports whether no further transitions are expected without a new run.
func (s IngestionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StatusRecord is the singleton status object persisted in the store.
// Timestamp is kept as the raw wire string because older writers produced
// naive ISO timestamps and readers must tolerate malformed values.
type StatusRecord struct {
	Status    IngestionState
	Timestamp string
	Details   StepDetails
}

// Empty reports whether the record was never written.
func (r StatusRecord) Empty() bool {
	return r.Status == "" && r.Timestamp == ""
}
