package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/escograph/internal/metrics"
	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/reader"
	"github.com/raphaelgruber/escograph/internal/store"
)

// Source files for the relation types.
const (
	FileOccupationSkillRelations = "occupationSkillRelations_en.csv"
	FileOccupationHierarchy      = "broaderRelationsOccPillar_en.csv"
	FileSkillCollectionRelations = "skillCollectionRelations_en.csv"
	FileSkillSkillRelations      = "skillSkillRelations_en.csv"
	FileSkillHierarchy           = "broaderRelationsSkillPillar_en.csv"
)

// RelationStats summarises one relation step.
type RelationStats struct {
	Relation string
	Queued   int
	Skipped  int
}

// relationStore is what the builder needs from the store.
type relationStore interface {
	store.ObjectReader
	store.ObjectWriter
}

// RelationBuilder creates references between ingested objects.
// Identifier sets are fetched once per class and cached for the builder's
// lifetime; call ResetCache before reusing a builder for another run.
type RelationBuilder struct {
	store   relationStore
	reader  *reader.Reader
	metrics *metrics.Collector
	ids     map[string]map[string]struct{}
}

// NewRelationBuilder creates a builder. m may be nil.
func NewRelationBuilder(s relationStore, r *reader.Reader, m *metrics.Collector) *RelationBuilder {
	return &RelationBuilder{
		store:   s,
		reader:  r,
		metrics: m,
		ids:     make(map[string]map[string]struct{}),
	}
}

// ResetCache discards the cached identifier sets.
func (b *RelationBuilder) ResetCache() {
	b.ids = make(map[string]map[string]struct{})
}

// idsFor returns the cached identifier set of class, fetching it on first use.
func (b *RelationBuilder) idsFor(ctx context.Context, class string) (map[string]struct{}, error) {
	if ids, ok := b.ids[class]; ok {
		return ids, nil
	}
	ids, err := b.store.GetAllIDs(ctx, class)
	if err != nil {
		return nil, fmt.Errorf("fetch %s ids: %w", class, err)
	}
	slog.Debug("cached ids", "class", class, "count", len(ids))
	b.ids[class] = ids
	return ids, nil
}

// resolve finds the first class among classes holding the object derived from uri.
func (b *RelationBuilder) resolve(ctx context.Context, uri string, classes ...string) (class, id string, err error) {
	id = models.ObjectID(uri)
	if id == "" {
		return "", "", nil
	}
	for _, c := range classes {
		ids, err := b.idsFor(ctx, c)
		if err != nil {
			return "", "", err
		}
		if _, ok := ids[id]; ok {
			return c, id, nil
		}
	}
	return "", "", nil
}

// edgeSpec maps table rows to references.
type edgeSpec struct {
	relation    string
	fromClasses []string
	toClasses   []string
	// edge extracts endpoint URIs and the reference property from a row.
	edge func(reader.Row) (fromURI, toURI, property string)
}

// CreateSkillRelations links occupations to their essential and optional skills.
// Unrecognized relation types default to essential.
func (b *RelationBuilder) CreateSkillRelations(ctx context.Context, hooks StepHooks) (RelationStats, error) {
	return b.fromFile(ctx, FileOccupationSkillRelations, nil, edgeSpec{
		relation:    "occupation_skill",
		fromClasses: []string{models.ClassOccupation},
		toClasses:   []string{models.ClassSkill},
		edge: func(row reader.Row) (string, string, string) {
			return row.Get("occupationUri"), row.Get("skillUri"), skillRequirement(row.Get("relationType"))
		},
	}, hooks)
}

// CreateHierarchicalRelations links occupations to their broader occupations.
func (b *RelationBuilder) CreateHierarchicalRelations(ctx context.Context, hooks StepHooks) (RelationStats, error) {
	return b.fromFile(ctx, FileOccupationHierarchy, reader.StandardizeHierarchyColumns, edgeSpec{
		relation:    "occupation_hierarchy",
		fromClasses: []string{models.ClassOccupation},
		toClasses:   []string{models.ClassOccupation},
		edge: func(row reader.Row) (string, string, string) {
			return row.Get(reader.ColNarrowerURI), row.Get(reader.ColBroaderURI), models.RefBroaderOccupation
		},
	}, hooks)
}

// CreateSkillCollectionRelations links skills to the collections they belong to.
func (b *RelationBuilder) CreateSkillCollectionRelations(ctx context.Context, hooks StepHooks) (RelationStats, error) {
	return b.fromFile(ctx, FileSkillCollectionRelations, reader.StandardizeCollectionRelationColumns, edgeSpec{
		relation:    "skill_collection",
		fromClasses: []string{models.ClassSkill},
		toClasses:   []string{models.ClassSkillCollection},
		edge: func(row reader.Row) (string, string, string) {
			return row.Get(reader.ColSkillURI), row.Get(reader.ColConceptSchemeURI), models.RefMemberOfSkillCollection
		},
	}, hooks)
}

// CreateSkillSkillRelations links related skills.
func (b *RelationBuilder) CreateSkillSkillRelations(ctx context.Context, hooks StepHooks) (RelationStats, error) {
	return b.fromFile(ctx, FileSkillSkillRelations, nil, edgeSpec{
		relation:    "skill_skill",
		fromClasses: []string{models.ClassSkill},
		toClasses:   []string{models.ClassSkill},
		edge: func(row reader.Row) (string, string, string) {
			return row.First("originalSkillUri", "skillUri"), row.Get("relatedSkillUri"), models.RefHasRelatedSkill
		},
	}, hooks)
}

// CreateBroaderSkillRelations links skills (and skill groups) to their broader concept.
func (b *RelationBuilder) CreateBroaderSkillRelations(ctx context.Context, hooks StepHooks) (RelationStats, error) {
	return b.fromFile(ctx, FileSkillHierarchy, reader.StandardizeHierarchyColumns, edgeSpec{
		relation:    "skill_hierarchy",
		fromClasses: []string{models.ClassSkill, models.ClassSkillGroup},
		toClasses:   []string{models.ClassSkill, models.ClassSkillGroup},
		edge: func(row reader.Row) (string, string, string) {
			return row.Get(reader.ColNarrowerURI), row.Get(reader.ColBroaderURI), models.RefBroaderSkill
		},
	}, hooks)
}

// CreateISCOGroupRelations links occupations to ISCO groups by joining the
// occupation's iscoCode with the group's code. There is no source file.
func (b *RelationBuilder) CreateISCOGroupRelations(ctx context.Context, hooks StepHooks) (RelationStats, error) {
	stats := RelationStats{Relation: "occupation_isco"}

	groups, err := b.store.GetObjects(ctx, models.ClassISCOGroup, nil)
	if err != nil {
		return stats, fmt.Errorf("load isco groups: %w", err)
	}
	byCode := make(map[string]string, len(groups))
	for _, g := range groups {
		if code := g.String(models.PropCode); code != "" {
			byCode[code] = g.ID
		}
	}

	occupations, err := b.store.GetObjects(ctx, models.ClassOccupation, nil)
	if err != nil {
		return stats, fmt.Errorf("load occupations: %w", err)
	}

	if len(byCode) == 0 || len(occupations) == 0 {
		slog.Warn("no isco groups or occupations to join, skipping", "groups", len(byCode), "occupations", len(occupations))
		return stats, nil
	}

	var refs []models.Reference
	for i, occ := range occupations {
		groupID, ok := byCode[occ.String(models.PropISCOCode)]
		if !ok {
			stats.Skipped++
		} else {
			refs = append(refs, models.Reference{
				FromClass: models.ClassOccupation,
				FromID:    occ.ID,
				Property:  models.RefMemberOfISCOGroup,
				ToClass:   models.ClassISCOGroup,
				ToID:      groupID,
			})
		}
		b.tick(hooks, stats.Relation, i+1, len(occupations), len(refs), stats.Skipped)
	}

	return b.submit(ctx, stats, refs)
}

// fromFile reads a relation file, optionally standardizes its columns and
// builds references from every row whose endpoints exist.
func (b *RelationBuilder) fromFile(ctx context.Context, file string, standardize func(*reader.Table) *reader.Table, spec edgeSpec, hooks StepHooks) (RelationStats, error) {
	stats := RelationStats{Relation: spec.relation}

	tbl, err := b.reader.ReadTable(file)
	if errors.Is(err, reader.ErrSourceNotFound) {
		slog.Warn("relation source missing, skipping", "relation", spec.relation, "file", file)
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	if standardize != nil {
		tbl = standardize(tbl)
	}
	if tbl.Len() == 0 {
		slog.Warn("relation source empty, skipping", "relation", spec.relation, "file", file)
		return stats, nil
	}

	var refs []models.Reference
	for i, row := range tbl.Rows {
		fromURI, toURI, prop := spec.edge(row)

		fromClass, fromID, err := b.resolve(ctx, fromURI, spec.fromClasses...)
		if err != nil {
			return stats, err
		}
		toClass, toID, err := b.resolve(ctx, toURI, spec.toClasses...)
		if err != nil {
			return stats, err
		}

		if fromClass == "" || toClass == "" {
			stats.Skipped++
		} else {
			refs = append(refs, models.Reference{
				FromClass: fromClass,
				FromID:    fromID,
				Property:  prop,
				ToClass:   toClass,
				ToID:      toID,
			})
		}
		b.tick(hooks, spec.relation, i+1, tbl.Len(), len(refs), stats.Skipped)
	}

	return b.submit(ctx, stats, refs)
}

// tick reports progress and beats every reader.HeartbeatInterval rows.
func (b *RelationBuilder) tick(hooks StepHooks, relation string, n, total, queued, skipped int) {
	if n%reader.HeartbeatInterval == 0 {
		hooks.beat(models.RelationStep{Step: hooks.Step, Relation: relation, Inserted: queued, Skipped: skipped, At: time.Now()})
		hooks.progress(n, total)
	}
}

func (b *RelationBuilder) submit(ctx context.Context, stats RelationStats, refs []models.Reference) (RelationStats, error) {
	stats.Queued = len(refs)
	if len(refs) > 0 {
		start := time.Now()
		if err := b.store.BatchAddReferences(ctx, refs); err != nil {
			return stats, fmt.Errorf("add %s references: %w", stats.Relation, err)
		}
		if b.metrics != nil {
			b.metrics.RecordItems(metrics.OpStoreWrite, time.Since(start), int64(len(refs)))
		}
	}
	slog.Info("relations created", "relation", stats.Relation, "inserted", stats.Queued, "skipped", stats.Skipped)
	return stats, nil
}

// skillRequirement maps an ESCO relationType to a reference property.
func skillRequirement(relationType string) string {
	if strings.EqualFold(strings.TrimSpace(relationType), "optional") {
		return models.RefHasOptionalSkill
	}
	return models.RefHasEssentialSkill
}
