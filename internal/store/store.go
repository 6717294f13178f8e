// Package store defines the storage contracts the ingestion core depends on.
// internal/db implements them over SurrealDB and internal/store/memstore in memory.
package store

import (
	"context"

	"github.com/raphaelgruber/escograph/internal/models"
)

// Filter restricts GetObjects to objects whose Property equals Value.
type Filter struct {
	Property string
	Value    any
}

// ClassRepository exposes per-class aggregate queries.
type ClassRepository interface {
	// CountObjects returns the number of stored objects of the class.
	CountObjects(ctx context.Context) (int, error)
}

// StatusStore reads and writes the singleton ingestion status record.
type StatusStore interface {
	// ReadStatus returns the current record. A record that was never written
	// comes back with StateNotStarted and no error.
	ReadStatus(ctx context.Context) (models.StatusRecord, error)

	// WriteStatus upserts the record under its fixed identifier. Last write wins.
	WriteStatus(ctx context.Context, rec models.StatusRecord) error
}

// ObjectWriter is the write side used by the entity and relation steps.
type ObjectWriter interface {
	// BatchAddObjects upserts objects of a class. ids, when non-nil, must be
	// the same length as objects and supplies each object's identifier.
	BatchAddObjects(ctx context.Context, class string, objects []map[string]any, ids []string) error

	// BatchAddReferences creates typed edges between existing objects.
	BatchAddReferences(ctx context.Context, refs []models.Reference) error
}

// ObjectReader is the read side used by the relation steps.
type ObjectReader interface {
	// GetAllIDs returns every object identifier of a class.
	GetAllIDs(ctx context.Context, class string) (map[string]struct{}, error)

	// GetObjects returns objects of a class, optionally filtered.
	GetObjects(ctx context.Context, class string, filter *Filter) ([]models.Object, error)
}

// Store is everything the ingestion core needs from the backing store.
type Store interface {
	StatusStore
	ObjectWriter
	ObjectReader

	// IsConnected reports whether the store answers queries.
	IsConnected(ctx context.Context) bool

	// EnsureSchema creates missing classes and indexes. It is idempotent.
	EnsureSchema(ctx context.Context) error

	// DeleteSchema drops every class and all data.
	DeleteSchema(ctx context.Context) error

	// Repository returns the aggregate handle for a class.
	Repository(class string) ClassRepository
}

// VectorSearcher is implemented by stores that index object embeddings.
type VectorSearcher interface {
	// SearchByVector returns up to limit objects of class whose cosine
	// similarity to vector is at least minScore, best first.
	SearchByVector(ctx context.Context, class string, vector []float32, limit int, minScore float64) ([]models.Object, error)

	// GetReferenced follows references with property from the object
	// (class, id). With reverse set it follows incoming edges instead.
	GetReferenced(ctx context.Context, class, id, property string, reverse bool) ([]models.Object, error)

	// GetObject returns one object or nil when it does not exist.
	GetObject(ctx context.Context, class, id string) (*models.Object, error)
}
