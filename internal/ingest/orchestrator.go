package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/escograph/internal/metrics"
	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/reader"
	"github.com/raphaelgruber/escograph/internal/store"
)

// Pipeline step names, in execution order.
const (
	StepEnsureSchema                   = "ensure_schema"
	StepIngestISCOGroups               = "ingest_isco_groups"
	StepIngestOccupations              = "ingest_occupations"
	StepIngestSkills                   = "ingest_skills"
	StepIngestSkillGroups              = "ingest_skill_groups"
	StepIngestSkillCollections         = "ingest_skill_collections"
	StepCreateSkillRelations           = "create_skill_relations"
	StepCreateHierarchicalRelations    = "create_hierarchical_relations"
	StepCreateISCOGroupRelations       = "create_isco_group_relations"
	StepCreateSkillCollectionRelations = "create_skill_collection_relations"
	StepCreateSkillSkillRelations      = "create_skill_skill_relations"
	StepCreateBroaderSkillRelations    = "create_broader_skill_relations"
)

// stepOrder lists the pipeline steps in execution order.
var stepOrder = []string{
	StepEnsureSchema,
	StepIngestISCOGroups,
	StepIngestOccupations,
	StepIngestSkills,
	StepIngestSkillGroups,
	StepIngestSkillCollections,
	StepCreateSkillRelations,
	StepCreateHierarchicalRelations,
	StepCreateISCOGroupRelations,
	StepCreateSkillCollectionRelations,
	StepCreateSkillSkillRelations,
	StepCreateBroaderSkillRelations,
}

// StepNumber returns the 1-based position of a step, or 0 for names that
// are not pipeline steps.
func StepNumber(name string) int {
	for i, s := range stepOrder {
		if s == name {
			return i + 1
		}
	}
	return 0
}

// IngestionEngine runs the full pipeline once.
type IngestionEngine interface {
	Run(ctx context.Context, progress models.ProgressFunc) (*RunReport, error)
}

// StepError reports which step aborted a run.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// RunReport is the per-step outcome of a run. It is returned even when a
// step fails so callers can see how far the pipeline got.
type RunReport struct {
	StepResults       map[string]models.StepStatus
	StepDurations     map[string]time.Duration
	StepsCompleted    int
	LastCompletedStep string
	FailedStep        string
	Entities          map[string]EntityStats
	Relations         map[string]RelationStats
}

// step is one entry of the fixed pipeline script.
type step struct {
	name    string
	details func() models.StepDetails
	run     func(ctx context.Context, hooks StepHooks, report *RunReport) error
}

// Orchestrator executes the 12-step pipeline strictly in sequence.
// It writes an in_progress heartbeat before every step and stops at the
// first failing step without rolling back earlier writes.
type Orchestrator struct {
	store     store.Store
	entities  *EntityIngestor
	relations *RelationBuilder
	metrics   *metrics.Collector
	now       func() time.Time
	steps     []step
}

var _ IngestionEngine = (*Orchestrator)(nil)

// NewOrchestrator wires the entity and relation steps over s and r.
// embedder and m may be nil.
func NewOrchestrator(s store.Store, r *reader.Reader, embedder Embedder, m *metrics.Collector) *Orchestrator {
	if m == nil {
		m = metrics.NewCollector()
	}
	o := &Orchestrator{
		store:     s,
		entities:  NewEntityIngestor(s, r, embedder, m),
		relations: NewRelationBuilder(s, r, m),
		metrics:   m,
		now:       time.Now,
	}
	o.steps = o.script()
	return o
}

// Steps returns the step names in execution order.
func (o *Orchestrator) Steps() []string {
	names := make([]string, len(o.steps))
	for i, s := range o.steps {
		names[i] = s.name
	}
	return names
}

// Metrics returns the collector step timings are recorded in.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

func (o *Orchestrator) script() []step {
	entity := func(name, class string, fn func(context.Context, StepHooks) (EntityStats, error)) step {
		return step{
			name:    name,
			details: func() models.StepDetails { return models.EntityStep{Step: name, Class: class, At: o.now()} },
			run: func(ctx context.Context, hooks StepHooks, report *RunReport) error {
				stats, err := fn(ctx, hooks)
				report.Entities[class] = stats
				return err
			},
		}
	}
	relation := func(name string, fn func(context.Context, StepHooks) (RelationStats, error)) step {
		return step{
			name:    name,
			details: func() models.StepDetails { return models.RelationStep{Step: name, At: o.now()} },
			run: func(ctx context.Context, hooks StepHooks, report *RunReport) error {
				stats, err := fn(ctx, hooks)
				report.Relations[name] = stats
				return err
			},
		}
	}

	return []step{
		{
			name:    StepEnsureSchema,
			details: func() models.StepDetails { return models.SchemaStep{Step: StepEnsureSchema, At: o.now()} },
			run: func(ctx context.Context, _ StepHooks, _ *RunReport) error {
				return o.store.EnsureSchema(ctx)
			},
		},
		entity(StepIngestISCOGroups, models.ClassISCOGroup, o.entities.IngestISCOGroups),
		entity(StepIngestOccupations, models.ClassOccupation, o.entities.IngestOccupations),
		entity(StepIngestSkills, models.ClassSkill, o.entities.IngestSkills),
		entity(StepIngestSkillGroups, models.ClassSkillGroup, o.entities.IngestSkillGroups),
		entity(StepIngestSkillCollections, models.ClassSkillCollection, o.entities.IngestSkillCollections),
		relation(StepCreateSkillRelations, o.relations.CreateSkillRelations),
		relation(StepCreateHierarchicalRelations, o.relations.CreateHierarchicalRelations),
		relation(StepCreateISCOGroupRelations, o.relations.CreateISCOGroupRelations),
		relation(StepCreateSkillCollectionRelations, o.relations.CreateSkillCollectionRelations),
		relation(StepCreateSkillSkillRelations, o.relations.CreateSkillSkillRelations),
		relation(StepCreateBroaderSkillRelations, o.relations.CreateBroaderSkillRelations),
	}
}

// Run executes every step in order. On failure it returns the partial
// report together with a *StepError; no step is retried.
func (o *Orchestrator) Run(ctx context.Context, progress models.ProgressFunc) (*RunReport, error) {
	o.relations.ResetCache()
	report := &RunReport{
		StepResults:   make(map[string]models.StepStatus, len(o.steps)),
		StepDurations: make(map[string]time.Duration, len(o.steps)),
		Entities:      make(map[string]EntityStats),
		Relations:     make(map[string]RelationStats),
	}
	for _, s := range o.steps {
		report.StepResults[s.name] = models.StepPending
	}

	for i, s := range o.steps {
		idx := i + 1
		o.heartbeat(ctx, s.details())
		notify(progress, models.Progress{Step: idx, TotalSteps: len(o.steps), StepName: s.name})
		slog.Info("starting step", "step", idx, "total", len(o.steps), "name", s.name)

		hooks := StepHooks{
			Step: s.name,
			Beat: func(d models.StepDetails) { o.heartbeat(ctx, d) },
			Progress: func(processed, total int) {
				notify(progress, models.Progress{Step: idx, TotalSteps: len(o.steps), StepName: s.name, Processed: processed, Total: total})
			},
		}

		start := o.now()
		err := s.run(ctx, hooks, report)
		elapsed := o.now().Sub(start)
		o.metrics.RecordStep(s.name, elapsed)
		report.StepDurations[s.name] = elapsed

		if err != nil {
			report.StepResults[s.name] = models.StepFailed
			report.FailedStep = s.name
			slog.Error("step failed", "step", idx, "name", s.name, "duration_ms", elapsed.Milliseconds(), "error", err)
			return report, &StepError{Step: s.name, Index: idx, Err: err}
		}

		report.StepResults[s.name] = models.StepCompleted
		report.StepsCompleted++
		report.LastCompletedStep = s.name
		slog.Info("step complete", "step", idx, "name", s.name, "duration_ms", elapsed.Milliseconds())
	}

	return report, nil
}

// heartbeat writes an in_progress status. Failures are logged and ignored:
// a missed heartbeat must not fail the run.
func (o *Orchestrator) heartbeat(ctx context.Context, d models.StepDetails) {
	start := o.now()
	err := o.store.WriteStatus(ctx, models.StatusRecord{
		Status:    models.StateInProgress,
		Timestamp: models.FormatTimestamp(o.now()),
		Details:   d,
	})
	o.metrics.RecordTiming(metrics.OpStatusWrite, o.now().Sub(start))
	if err != nil {
		slog.Warn("heartbeat write failed", "error", err)
	}
}

func notify(fn models.ProgressFunc, p models.Progress) {
	if fn != nil {
		fn(p)
	}
}
