// Package ingest loads the ESCO taxonomy into a store: entity classes first,
// then the references between them, sequenced by the Orchestrator.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/escograph/internal/metrics"
	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/reader"
	"github.com/raphaelgruber/escograph/internal/store"
)

// Source files for the entity classes.
const (
	FileISCOGroups       = "ISCOGroups_en.csv"
	FileOccupations      = "occupations_en.csv"
	FileSkills           = "skills_en.csv"
	FileSkillGroups      = "skillGroups_en.csv"
	FileSkillCollections = "conceptSchemes_en.csv"
)

var (
	errMissingURI   = errors.New("missing conceptUri")
	errInvalidURI   = errors.New("conceptUri has no identifier")
	errMissingLabel = errors.New("missing preferred label")
)

// Embedder generates vectors for object text. Optional: without one,
// objects are stored without embeddings.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// StepHooks connects a running step to the orchestrator.
type StepHooks struct {
	// Step is the pipeline step name the hooks are bound to.
	Step string
	// Beat persists a heartbeat.
	Beat func(models.StepDetails)
	// Progress reports item progress within the step.
	Progress func(processed, total int)
}

func (h StepHooks) beat(d models.StepDetails) {
	if h.Beat != nil {
		h.Beat(d)
	}
}

func (h StepHooks) progress(processed, total int) {
	if h.Progress != nil {
		h.Progress(processed, total)
	}
}

// EntityStats summarises one entity step.
type EntityStats struct {
	Class   string
	Read    int
	Written int
	Skipped int
}

// EntityIngestor turns ESCO CSV rows into stored objects.
type EntityIngestor struct {
	store    store.ObjectWriter
	reader   *reader.Reader
	embedder Embedder
	metrics  *metrics.Collector
}

// NewEntityIngestor creates an ingestor. embedder and m may be nil.
func NewEntityIngestor(w store.ObjectWriter, r *reader.Reader, embedder Embedder, m *metrics.Collector) *EntityIngestor {
	return &EntityIngestor{store: w, reader: r, embedder: embedder, metrics: m}
}

// entitySource describes how one class is read.
type entitySource struct {
	class string
	file  string
	build func(reader.Row) (map[string]any, error)
}

// IngestISCOGroups loads ISCO groups.
func (e *EntityIngestor) IngestISCOGroups(ctx context.Context, hooks StepHooks) (EntityStats, error) {
	return e.ingest(ctx, entitySource{
		class: models.ClassISCOGroup,
		file:  FileISCOGroups,
		build: func(row reader.Row) (map[string]any, error) {
			props, err := baseProps(row)
			if err != nil {
				return nil, err
			}
			code := row.Get("code")
			props[models.PropCode] = code
			props[models.PropISCOLevel] = iscoLevel(row.Get("iscoLevel"), code)
			return props, nil
		},
	}, hooks)
}

// IngestOccupations loads occupations. The ISCO code is kept on each
// occupation so the ISCO membership step can join on it.
func (e *EntityIngestor) IngestOccupations(ctx context.Context, hooks StepHooks) (EntityStats, error) {
	return e.ingest(ctx, entitySource{
		class: models.ClassOccupation,
		file:  FileOccupations,
		build: func(row reader.Row) (map[string]any, error) {
			props, err := baseProps(row)
			if err != nil {
				return nil, err
			}
			props[models.PropDefinition] = row.First("definition_en", "definition")
			props[models.PropCode] = row.Get("code")
			props[models.PropISCOCode] = row.First("iscoGroup", "iscoCode")
			return props, nil
		},
	}, hooks)
}

// IngestSkills loads skills.
func (e *EntityIngestor) IngestSkills(ctx context.Context, hooks StepHooks) (EntityStats, error) {
	return e.ingest(ctx, entitySource{
		class: models.ClassSkill,
		file:  FileSkills,
		build: func(row reader.Row) (map[string]any, error) {
			props, err := baseProps(row)
			if err != nil {
				return nil, err
			}
			props[models.PropSkillType] = row.Get("skillType")
			props[models.PropReuseLevel] = row.Get("reuseLevel")
			return props, nil
		},
	}, hooks)
}

// IngestSkillGroups loads skill groups.
func (e *EntityIngestor) IngestSkillGroups(ctx context.Context, hooks StepHooks) (EntityStats, error) {
	return e.ingest(ctx, entitySource{class: models.ClassSkillGroup, file: FileSkillGroups, build: baseProps}, hooks)
}

// IngestSkillCollections loads skill collections from the concept scheme export.
func (e *EntityIngestor) IngestSkillCollections(ctx context.Context, hooks StepHooks) (EntityStats, error) {
	return e.ingest(ctx, entitySource{class: models.ClassSkillCollection, file: FileSkillCollections, build: baseProps}, hooks)
}

func (e *EntityIngestor) ingest(ctx context.Context, src entitySource, hooks StepHooks) (EntityStats, error) {
	stats := EntityStats{Class: src.class}

	tbl, err := e.reader.ReadTable(src.file)
	if errors.Is(err, reader.ErrSourceNotFound) {
		slog.Warn("entity source missing, skipping", "class", src.class, "file", src.file)
		return stats, nil
	}
	if err != nil {
		return stats, err
	}

	total := tbl.Len()
	slog.Info("ingesting entities", "class", src.class, "file", src.file, "rows", total)

	processed := 0
	err = e.reader.ProcessTable(ctx, tbl,
		func(ctx context.Context, batch []reader.Row) error {
			objects := make([]map[string]any, 0, len(batch))
			ids := make([]string, 0, len(batch))

			for _, row := range batch {
				stats.Read++
				props, err := src.build(row)
				if err != nil {
					stats.Skipped++
					slog.Warn("skipping record", "class", src.class, "uri", row.Get("conceptUri"), "error", err)
					continue
				}
				objects = append(objects, props)
				ids = append(ids, models.ObjectID(props[models.PropURI].(string)))
			}

			if len(objects) > 0 {
				if err := e.attachEmbeddings(ctx, objects); err != nil {
					return err
				}
				start := time.Now()
				if err := e.store.BatchAddObjects(ctx, src.class, objects, ids); err != nil {
					return fmt.Errorf("add %s objects: %w", src.class, err)
				}
				if e.metrics != nil {
					e.metrics.RecordItems(metrics.OpStoreWrite, time.Since(start), int64(len(objects)))
				}
				stats.Written += len(objects)
			}

			processed += len(batch)
			hooks.progress(processed, total)
			return nil
		},
		func(n, total int) {
			hooks.beat(models.EntityStep{Step: hooks.Step, Class: src.class, Processed: n, Total: total, At: time.Now()})
		})
	if err != nil {
		return stats, err
	}

	slog.Info("entity ingestion complete", "class", src.class, "written", stats.Written, "skipped", stats.Skipped)
	return stats, nil
}

func (e *EntityIngestor) attachEmbeddings(ctx context.Context, objects []map[string]any) error {
	if e.embedder == nil {
		return nil
	}

	texts := make([]string, len(objects))
	for i, obj := range objects {
		texts[i] = embeddingText(obj)
	}

	start := time.Now()
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RecordItems(metrics.OpEmbedding, time.Since(start), int64(len(texts)))
	}
	if len(vectors) != len(objects) {
		return fmt.Errorf("embed batch: got %d vectors for %d objects", len(vectors), len(objects))
	}
	for i, obj := range objects {
		obj[models.PropEmbedding] = vectors[i]
	}
	return nil
}

// embeddingText is the text an object is embedded from.
func embeddingText(obj map[string]any) string {
	label, _ := obj[models.PropPreferredLabel].(string)
	desc, _ := obj[models.PropDescription].(string)
	if desc == "" {
		return label
	}
	return label + ". " + desc
}

// baseProps builds the properties every class shares.
func baseProps(row reader.Row) (map[string]any, error) {
	uri := row.Get("conceptUri")
	if uri == "" {
		return nil, errMissingURI
	}
	if models.ObjectID(uri) == "" {
		return nil, errInvalidURI
	}
	label := row.First("preferredLabel_en", "preferredLabel")
	if label == "" {
		return nil, errMissingLabel
	}
	return map[string]any{
		models.PropURI:            uri,
		models.PropPreferredLabel: label,
		models.PropDescription:    row.First("description_en", "description"),
		models.PropAltLabels:      splitAltLabels(row.First("altLabels_en", "altLabels")),
	}, nil
}

// splitAltLabels splits pipe or newline separated alternative labels.
func splitAltLabels(s string) []string {
	labels := []string{}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == '\n' }) {
		if p := strings.TrimSpace(part); p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}

// iscoLevel uses the explicit level when present, else the code length
// (ISCO codes have one digit per level).
func iscoLevel(explicit, code string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := strconv.Atoi(code); err == nil {
		return strconv.Itoa(len(code))
	}
	return ""
}
