// Package memstore is an in-memory store.Store used for dry runs and tests.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/store"
)

// Store keeps objects, references and the status record in maps.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	schema  bool
	objects map[string]map[string]map[string]any // class -> id -> props
	refs    map[models.Reference]struct{}
	status  *statusRow
}

type statusRow struct {
	status    string
	timestamp string
	details   string
}

// New returns an empty store. The schema is created lazily by EnsureSchema.
func New() *Store {
	return &Store{
		objects: make(map[string]map[string]map[string]any),
		refs:    make(map[models.Reference]struct{}),
	}
}

var (
	_ store.Store          = (*Store)(nil)
	_ store.VectorSearcher = (*Store)(nil)
)

func (s *Store) IsConnected(context.Context) bool { return true }

func (s *Store) EnsureSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = true
	for _, c := range models.AllClasses {
		if s.objects[c] == nil {
			s.objects[c] = make(map[string]map[string]any)
		}
	}
	return nil
}

// HasSchema reports whether EnsureSchema ran since the last DeleteSchema.
func (s *Store) HasSchema() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

func (s *Store) DeleteSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = false
	s.objects = make(map[string]map[string]map[string]any)
	s.refs = make(map[models.Reference]struct{})
	s.status = nil
	return nil
}

func (s *Store) BatchAddObjects(_ context.Context, class string, objects []map[string]any, ids []string) error {
	if ids != nil && len(ids) != len(objects) {
		return fmt.Errorf("batch add %s: %d ids for %d objects", class, len(ids), len(objects))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := s.objects[class]
	if tbl == nil {
		tbl = make(map[string]map[string]any)
		s.objects[class] = tbl
	}
	for i, obj := range objects {
		var id string
		if ids != nil {
			id = ids[i]
		} else {
			id = fmt.Sprintf("%s-%d", class, len(tbl)+1)
		}
		tbl[id] = maps.Clone(obj)
	}
	return nil
}

func (s *Store) BatchAddReferences(_ context.Context, refs []models.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range refs {
		if _, ok := s.objects[r.FromClass][r.FromID]; !ok {
			return fmt.Errorf("reference source %s:%s not found", r.FromClass, r.FromID)
		}
		if _, ok := s.objects[r.ToClass][r.ToID]; !ok {
			return fmt.Errorf("reference target %s:%s not found", r.ToClass, r.ToID)
		}
		s.refs[r] = struct{}{}
	}
	return nil
}

func (s *Store) GetAllIDs(_ context.Context, class string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{}, len(s.objects[class]))
	for id := range s.objects[class] {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *Store) GetObjects(_ context.Context, class string, filter *store.Filter) ([]models.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Object
	for _, id := range slices.Sorted(maps.Keys(s.objects[class])) {
		props := s.objects[class][id]
		if filter != nil && props[filter.Property] != filter.Value {
			continue
		}
		out = append(out, models.Object{ID: id, Class: class, Properties: maps.Clone(props)})
	}
	return out, nil
}

func (s *Store) GetObject(_ context.Context, class, id string) (*models.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	props, ok := s.objects[class][id]
	if !ok {
		return nil, nil
	}
	return &models.Object{ID: id, Class: class, Properties: maps.Clone(props)}, nil
}

// References returns a copy of all stored references.
func (s *Store) References() []models.Reference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Collect(maps.Keys(s.refs))
}

func (s *Store) GetReferenced(_ context.Context, class, id, property string, reverse bool) ([]models.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Object
	for r := range s.refs {
		if r.Property != property {
			continue
		}
		var cls, oid string
		switch {
		case !reverse && r.FromClass == class && r.FromID == id:
			cls, oid = r.ToClass, r.ToID
		case reverse && r.ToClass == class && r.ToID == id:
			cls, oid = r.FromClass, r.FromID
		default:
			continue
		}
		if props, ok := s.objects[cls][oid]; ok {
			out = append(out, models.Object{ID: oid, Class: cls, Properties: maps.Clone(props)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SearchByVector(_ context.Context, class string, vector []float32, limit int, minScore float64) ([]models.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Object
	for id, props := range s.objects[class] {
		emb, ok := props[models.PropEmbedding].([]float32)
		if !ok {
			continue
		}
		score := cosine(vector, emb)
		if score < minScore {
			continue
		}
		out = append(out, models.Object{ID: id, Class: class, Properties: maps.Clone(props), Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Repository(class string) store.ClassRepository {
	return repo{s: s, class: class}
}

type repo struct {
	s     *Store
	class string
}

func (r repo) CountObjects(context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.objects[r.class]), nil
}

func (s *Store) ReadStatus(context.Context) (models.StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status == nil {
		return models.StatusRecord{Status: models.StateNotStarted}, nil
	}
	return models.StatusRecord{
		Status:    models.ParseIngestionState(s.status.status),
		Timestamp: s.status.timestamp,
		Details:   models.ParseDetails(s.status.details),
	}, nil
}

func (s *Store) WriteStatus(_ context.Context, rec models.StatusRecord) error {
	details, err := models.MarshalDetails(rec.Details)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &statusRow{status: string(rec.Status), timestamp: rec.Timestamp, details: details}
	return nil
}

// SetRawStatus stores a status record verbatim, bypassing validation.
func (s *Store) SetRawStatus(status, timestamp, details string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &statusRow{status: status, timestamp: timestamp, details: details}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
