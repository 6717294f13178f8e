// Package service provides the application layer for ESCO ingestion and search.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/escograph/internal/config"
	"github.com/raphaelgruber/escograph/internal/ingest"
	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/state"
	"github.com/raphaelgruber/escograph/internal/store"
)

// Sentinel errors for service operations.
var (
	// ErrNotConnected indicates the store never became reachable.
	ErrNotConnected = errors.New("store not connected")

	// ErrWaitTimeout indicates ingestion did not finish within the wait timeout.
	ErrWaitTimeout = errors.New("timed out waiting for ingestion")

	// ErrIngestionFailed indicates the last run ended in the failed state.
	ErrIngestionFailed = errors.New("ingestion failed")

	// ErrIngestionAbandoned indicates an in_progress run stopped sending heartbeats.
	ErrIngestionAbandoned = errors.New("ingestion abandoned")
)

// IngestionService coordinates the decision logic with pipeline execution
// and persists the run's status transitions.
type IngestionService struct {
	store  store.Store
	engine ingest.IngestionEngine
	cfg    config.Config

	now         func() time.Time
	newRunID    func() string
	interactive func() bool
}

// NewIngestionService creates a service running engine against s.
func NewIngestionService(s store.Store, engine ingest.IngestionEngine, cfg config.Config) *IngestionService {
	return &IngestionService{
		store:       s,
		engine:      engine,
		cfg:         cfg,
		now:         time.Now,
		newRunID:    uuid.NewString,
		interactive: cfg.IsInteractiveMode,
	}
}

// GetCurrentState reads the status record and resolves it, folding stale
// in_progress runs into unknown.
func (s *IngestionService) GetCurrentState(ctx context.Context) (models.IngestionState, error) {
	rec, err := s.store.ReadStatus(ctx)
	if err != nil {
		return models.StateUnknown, fmt.Errorf("read status: %w", err)
	}
	return state.DetermineState(rec, s.cfg.StalenessThreshold, s.now()), nil
}

// ShouldRunIngestion decides whether a new run should start.
// force is OR-ed with the configured ForceReingest.
func (s *IngestionService) ShouldRunIngestion(ctx context.Context, force bool) (models.IngestionDecision, error) {
	rec, err := s.store.ReadStatus(ctx)
	if err != nil {
		return models.IngestionDecision{}, fmt.Errorf("read status: %w", err)
	}
	now := s.now()

	// Staleness is judged on the raw status: resolution would turn a stale
	// run into unknown and hide that something was running.
	current := models.ParseIngestionState(string(rec.Status))
	if rec.Empty() {
		current = models.StateNotStarted
	}
	stale := current == models.StateInProgress && state.IsStale(rec.Timestamp, s.cfg.StalenessThreshold, now)

	decision := state.Decide(state.DecisionInput{
		CurrentState:    current,
		ExistingClasses: s.existingClasses(ctx),
		ForceReingest:   force || s.cfg.ForceReingest,
		Interactive:     s.interactive(),
		Timestamp:       rec.Timestamp,
		IsStale:         stale,
	})

	slog.Info("ingestion decision",
		"should_run", decision.ShouldRun,
		"reason", decision.Reason,
		"state", decision.CurrentState,
		"stale", decision.IsStale,
		"existing_classes", decision.ExistingClasses)
	return decision, nil
}

// existingClasses probes each configured class. A failed probe counts as
// no data so one broken class cannot block the decision.
func (s *IngestionService) existingClasses(ctx context.Context) []string {
	var classes []string
	for _, class := range s.cfg.ClassesToIngest {
		n, err := s.store.Repository(class).CountObjects(ctx)
		if err != nil {
			slog.Warn("existence probe failed, assuming no data", "class", class, "error", err)
			continue
		}
		if n > 0 {
			classes = append(classes, class)
		}
	}
	return classes
}

// ValidatePrerequisites checks connectivity and schema, stopping at the
// first failure there, then collects every config and source file finding.
func (s *IngestionService) ValidatePrerequisites(ctx context.Context) *models.ValidationResult {
	res := models.NewValidationResult()

	res.AddCheck("connectivity")
	if !s.store.IsConnected(ctx) {
		res.AddError("connectivity", "store is not reachable")
		return res
	}
	res.AddSuccess("connectivity", "store reachable")

	res.AddCheck("schema")
	if err := s.store.EnsureSchema(ctx); err != nil {
		res.AddError("schema", "ensure schema: %v", err)
		return res
	}
	res.AddSuccess("schema", "schema present")

	res.Merge(s.cfg.Validate())

	res.AddCheck("data_files")
	info, err := os.Stat(s.cfg.DataDir)
	switch {
	case err != nil:
		res.AddError("data_files", "data directory %s: %v", s.cfg.DataDir, err)
	case !info.IsDir():
		res.AddError("data_files", "data directory %s is not a directory", s.cfg.DataDir)
	default:
		for _, name := range config.RequiredFiles {
			if err := checkReadable(filepath.Join(s.cfg.DataDir, name)); err != nil {
				res.AddError("data_files", "required file %s: %v", name, err)
			}
		}
		for _, name := range optionalFiles {
			if err := checkReadable(filepath.Join(s.cfg.DataDir, name)); err != nil {
				res.AddWarning("data_files", "optional file %s unavailable, its step will be skipped", name)
			}
		}
		res.AddSuccess("data_files", "all required files present in %s", s.cfg.DataDir)
	}

	return res
}

const terminalWriteTimeout = 10 * time.Second

// optionalFiles are read when present.
var optionalFiles = []string{
	ingest.FileSkillGroups,
	ingest.FileSkillCollections,
	ingest.FileSkillCollectionRelations,
	ingest.FileSkillSkillRelations,
	ingest.FileSkillHierarchy,
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// RunIngestion executes the pipeline once and records the outcome. A failure
// to persist the terminal status is reported as a warning and never changes
// the returned result.
func (s *IngestionService) RunIngestion(ctx context.Context, progress models.ProgressFunc) *models.IngestionResult {
	runID := s.newRunID()
	start := s.now()
	result := models.NewIngestionResult(start)

	slog.Info("ingestion started", "run_id", runID, "data_dir", s.cfg.DataDir)
	if err := s.writeStatus(ctx, models.StateInProgress, models.RunStarted{RunID: runID, At: start}); err != nil {
		slog.Warn("failed to write start status", "run_id", runID, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("start status not recorded: %v", err))
	}

	report, runErr := s.engine.Run(ctx, progress)
	result.EndTime = s.now()
	if report != nil {
		result.StepsCompleted = report.StepsCompleted
		result.LastCompletedStep = report.LastCompletedStep
		result.StepResults = report.StepResults
		result.StepDurations = report.StepDurations
	}

	var details models.StepDetails
	if runErr != nil {
		result.FinalState = models.StateFailed
		result.Errors = append(result.Errors, runErr.Error())

		failed := models.RunFailed{RunID: runID, Error: runErr.Error(), Duration: result.Duration(), At: result.EndTime}
		var stepErr *ingest.StepError
		if errors.As(runErr, &stepErr) {
			failed.Step = stepErr.Step
		}
		details = failed
		slog.Error("ingestion failed", "run_id", runID, "step", failed.Step, "steps_completed", result.StepsCompleted, "error", runErr)
	} else {
		result.Success = true
		result.FinalState = models.StateCompleted
		details = models.RunCompleted{RunID: runID, StepsCompleted: result.StepsCompleted, Duration: result.Duration(), At: result.EndTime}
		slog.Info("ingestion completed", "run_id", runID, "steps", result.StepsCompleted, "duration", result.Duration())
	}

	// An interrupted run still records its outcome.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	if err := s.writeStatus(wctx, result.FinalState, details); err != nil {
		slog.Error("failed to write terminal status", "run_id", runID, "state", result.FinalState, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("terminal status not recorded: %v", err))
	}
	return result
}

func (s *IngestionService) writeStatus(ctx context.Context, st models.IngestionState, d models.StepDetails) error {
	return s.store.WriteStatus(ctx, models.StatusRecord{
		Status:    st,
		Timestamp: models.FormatTimestamp(s.now()),
		Details:   d,
	})
}

// VerifyCompletion confirms the last run completed and every configured
// class holds data. Empty classes are warnings.
func (s *IngestionService) VerifyCompletion(ctx context.Context) *models.ValidationResult {
	res := models.NewValidationResult()

	res.AddCheck("state")
	st, err := s.GetCurrentState(ctx)
	if err != nil {
		res.AddError("state", "%v", err)
		return res
	}
	if st != models.StateCompleted {
		res.AddError("state", "ingestion not completed (state %s)", st)
		return res
	}
	res.AddSuccess("state", "ingestion completed")

	for _, class := range s.cfg.ClassesToIngest {
		res.AddCheck("count:" + class)
		n, err := s.store.Repository(class).CountObjects(ctx)
		switch {
		case err != nil:
			res.AddError(class, "count %s: %v", class, err)
		case n == 0:
			res.AddWarning(class, "class %s has no objects", class)
		default:
			res.AddSuccess(class, "%d objects", n)
		}
	}
	return res
}

// GetIngestionMetrics counts objects per configured class. A failed probe
// reports -1 and is left out of TotalObjects.
func (s *IngestionService) GetIngestionMetrics(ctx context.Context) *models.IngestionMetrics {
	m := &models.IngestionMetrics{ClassCounts: make(map[string]int, len(s.cfg.ClassesToIngest))}

	for _, class := range s.cfg.ClassesToIngest {
		n, err := s.store.Repository(class).CountObjects(ctx)
		if err != nil {
			slog.Warn("count failed", "class", class, "error", err)
			m.ClassCounts[class] = -1
			continue
		}
		m.ClassCounts[class] = n
		m.TotalObjects += n
	}

	rec, err := s.store.ReadStatus(ctx)
	if err != nil {
		slog.Warn("status read failed", "error", err)
		m.Status = models.StateUnknown
		return m
	}
	m.Status = state.DetermineState(rec, s.cfg.StalenessThreshold, s.now())
	m.Timestamp = rec.Timestamp
	m.Details = rec.Details
	return m
}
