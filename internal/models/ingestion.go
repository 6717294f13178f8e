package models

import "time"

// TotalSteps is the length of the ingestion pipeline:
// 1 schema step, 5 entity steps and 6 relation steps.
const TotalSteps = 12

// IngestionDecision explains whether a new run should start.
// It is recomputed on every call and never persisted.
type IngestionDecision struct {
	ShouldRun       bool
	Reason          string
	CurrentState    IngestionState
	ForceRequired   bool
	ExistingClasses []string
	Timestamp       string
	IsStale         bool
}

// StepStatus is the outcome of a single pipeline step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// IngestionResult is returned by a run.
type IngestionResult struct {
	Success           bool
	StepsCompleted    int
	TotalSteps        int
	Errors            []string
	Warnings          []string
	StartTime         time.Time
	EndTime           time.Time
	FinalState        IngestionState
	LastCompletedStep string

	// StepResults maps step name to its outcome, kept for diagnostics.
	StepResults map[string]StepStatus
	// StepDurations holds the wall time of each step that ran.
	StepDurations map[string]time.Duration
}

// NewIngestionResult returns a result initialised for a run starting at start.
func NewIngestionResult(start time.Time) *IngestionResult {
	return &IngestionResult{
		TotalSteps:    TotalSteps,
		StartTime:     start,
		FinalState:    StateInProgress,
		StepResults:   make(map[string]StepStatus),
		StepDurations: make(map[string]time.Duration),
	}
}

// Duration is EndTime - StartTime, or zero while the run has not ended.
func (r *IngestionResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// CompletionPercentage is StepsCompleted / TotalSteps * 100.
func (r *IngestionResult) CompletionPercentage() float64 {
	if r.TotalSteps == 0 {
		return 0
	}
	return float64(r.StepsCompleted) / float64(r.TotalSteps) * 100
}

// Progress is reported to callers while a run executes.
type Progress struct {
	Step       int
	TotalSteps int
	StepName   string
	Processed  int
	Total      int
}

// ProgressFunc receives progress updates. Implementations must not block.
type ProgressFunc func(Progress)

// IngestionMetrics is the per-class object count snapshot.
// A count of -1 means the probe for that class failed.
type IngestionMetrics struct {
	ClassCounts  map[string]int
	TotalObjects int
	Status       IngestionState
	Timestamp    string
	Details      StepDetails
}
