package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// Fixed table names outside the entity classes.
const (
	TableReference = "reference"
	TableStatus    = "ingestion_status"

	// statusKey is the id of the singleton status record.
	statusKey = "current"
)

// classTables maps entity classes to SurrealDB tables.
var classTables = map[string]string{
	models.ClassOccupation:      "occupation",
	models.ClassSkill:           "skill",
	models.ClassISCOGroup:       "isco_group",
	models.ClassSkillGroup:      "skill_group",
	models.ClassSkillCollection: "skill_collection",
}

// TableFor returns the table backing class.
func TableFor(class string) (string, error) {
	tb, ok := classTables[class]
	if !ok {
		return "", fmt.Errorf("unknown class %q", class)
	}
	return tb, nil
}

// classFor is the inverse of TableFor.
func classFor(table string) string {
	for c, tb := range classTables {
		if tb == table {
			return c
		}
	}
	return ""
}

// SchemaSQL renders the schema. Vector indexes are only defined when dim > 0.
func SchemaSQL(dim int) string {
	var b strings.Builder

	for _, class := range models.AllClasses {
		tb := classTables[class]
		fmt.Fprintf(&b, "DEFINE TABLE IF NOT EXISTS %s SCHEMALESS;\n", tb)
		fmt.Fprintf(&b, "DEFINE FIELD IF NOT EXISTS %s ON %s TYPE string;\n", models.PropURI, tb)
		fmt.Fprintf(&b, "DEFINE FIELD IF NOT EXISTS %s ON %s TYPE string;\n", models.PropPreferredLabel, tb)
		fmt.Fprintf(&b, "DEFINE FIELD IF NOT EXISTS %s ON %s TYPE option<array<string>>;\n", models.PropAltLabels, tb)
		fmt.Fprintf(&b, "DEFINE INDEX IF NOT EXISTS %s_uri ON %s FIELDS %s;\n", tb, tb, models.PropURI)
		if dim > 0 {
			fmt.Fprintf(&b, "DEFINE FIELD IF NOT EXISTS %s ON %s TYPE option<array<float>>;\n", models.PropEmbedding, tb)
			fmt.Fprintf(&b, "DEFINE INDEX IF NOT EXISTS %s_embedding ON %s FIELDS %s HNSW DIMENSION %d DIST COSINE TYPE F32;\n",
				tb, tb, models.PropEmbedding, dim)
		}
	}

	// Join keys for the ISCO membership step.
	fmt.Fprintf(&b, "DEFINE INDEX IF NOT EXISTS occupation_isco_code ON occupation FIELDS %s;\n", models.PropISCOCode)
	fmt.Fprintf(&b, "DEFINE INDEX IF NOT EXISTS isco_group_code ON isco_group FIELDS %s;\n", models.PropCode)

	fmt.Fprintf(&b, `DEFINE TABLE IF NOT EXISTS %[1]s TYPE RELATION SCHEMALESS;
DEFINE FIELD IF NOT EXISTS property ON %[1]s TYPE string;
DEFINE INDEX IF NOT EXISTS %[1]s_in ON %[1]s FIELDS in, property;
DEFINE INDEX IF NOT EXISTS %[1]s_out ON %[1]s FIELDS out, property;
`, TableReference)

	fmt.Fprintf(&b, `DEFINE TABLE IF NOT EXISTS %[1]s SCHEMAFULL;
DEFINE FIELD IF NOT EXISTS status ON %[1]s TYPE string;
DEFINE FIELD IF NOT EXISTS timestamp ON %[1]s TYPE string;
DEFINE FIELD IF NOT EXISTS details ON %[1]s TYPE string;
`, TableStatus)

	return b.String()
}

// EnsureSchema creates missing tables and indexes. Safe to run repeatedly.
func (c *Client) EnsureSchema(ctx context.Context) error {
	slog.Info("ensuring schema", "embedding_dimension", c.cfg.EmbeddingDimension)
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL(c.cfg.EmbeddingDimension), nil); err != nil {
		return fmt.Errorf("ensure schema: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteSchema removes every table this package defines, data included.
func (c *Client) DeleteSchema(ctx context.Context) error {
	var b strings.Builder
	for _, class := range models.AllClasses {
		fmt.Fprintf(&b, "REMOVE TABLE IF EXISTS %s;\n", classTables[class])
	}
	fmt.Fprintf(&b, "REMOVE TABLE IF EXISTS %s;\nREMOVE TABLE IF EXISTS %s;\n", TableReference, TableStatus)

	slog.Warn("deleting schema and all data")
	if _, err := surrealdb.Query[any](ctx, c.db, b.String(), nil); err != nil {
		return fmt.Errorf("delete schema: %w", wrapQueryError(err))
	}
	return nil
}
