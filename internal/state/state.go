// Package state holds the pure decision logic of the ingestion state machine.
// Nothing here performs I/O; callers pass the clock in.
package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/escograph/internal/models"
)

// DetermineState resolves a raw status record into a canonical state.
// An in_progress record whose heartbeat is older than threshold, or whose
// timestamp is missing or unparseable, resolves to StateUnknown.
func DetermineState(rec models.StatusRecord, threshold time.Duration, now time.Time) models.IngestionState {
	if rec.Empty() {
		return models.StateNotStarted
	}

	st := models.ParseIngestionState(string(rec.Status))
	if st == models.StateInProgress && IsStale(rec.Timestamp, threshold, now) {
		return models.StateUnknown
	}
	return st
}

// IsStale reports whether a heartbeat timestamp is older than threshold.
// Missing or malformed timestamps count as stale.
func IsStale(timestamp string, threshold time.Duration, now time.Time) bool {
	ts, err := models.ParseTimestamp(timestamp)
	if err != nil {
		return true
	}
	return now.Sub(ts) > threshold
}

// DecisionInput is everything Decide needs.
type DecisionInput struct {
	CurrentState    models.IngestionState
	ExistingClasses []string
	ForceReingest   bool
	Interactive     bool
	Timestamp       string
	IsStale         bool
}

// Decide applies the run precedence: force, completed, in progress,
// existing data, default. The first match wins.
func Decide(in DecisionInput) models.IngestionDecision {
	d := models.IngestionDecision{
		CurrentState:    in.CurrentState,
		ExistingClasses: in.ExistingClasses,
		Timestamp:       in.Timestamp,
	}

	switch {
	case in.ForceReingest:
		d.ShouldRun = true
		d.Reason = "force re-ingestion requested"

	case in.CurrentState == models.StateCompleted:
		d.Reason = "ingestion already completed; use --force to re-ingest"
		d.ForceRequired = true

	case in.CurrentState == models.StateInProgress && !in.IsStale:
		d.Reason = fmt.Sprintf("ingestion in progress and not stale (last heartbeat %s)", orUnknown(in.Timestamp))
		d.ForceRequired = true

	case in.CurrentState == models.StateInProgress:
		d.ShouldRun = true
		d.IsStale = true
		d.Reason = fmt.Sprintf("stale in-progress ingestion detected (last heartbeat %s)", orUnknown(in.Timestamp))

	case len(in.ExistingClasses) > 0 && !in.Interactive:
		d.Reason = fmt.Sprintf("existing data found in classes %s; force required in non-interactive mode",
			strings.Join(in.ExistingClasses, ", "))
		d.ForceRequired = true

	case len(in.ExistingClasses) > 0:
		d.ShouldRun = true
		d.Reason = fmt.Sprintf("existing data found in classes %s; proceeding in interactive mode",
			strings.Join(in.ExistingClasses, ", "))

	default:
		d.ShouldRun = true
		d.Reason = "no existing data"
	}

	return d
}

func orUnknown(ts string) string {
	if ts == "" {
		return "unknown"
	}
	return ts
}
