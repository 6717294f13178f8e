package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/store"
)

// ErrNoEmbedder is returned by searches when embeddings are disabled.
var ErrNoEmbedder = errors.New("semantic search requires an embedding provider")

// QueryEmbedder turns query text into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Default search limits and similarity thresholds.
const (
	DefaultOccupationLimit     = 10
	DefaultOccupationThreshold = 0.7
	DefaultSkillLimit          = 20
	DefaultSkillThreshold      = 0.6
)

// SearchService answers semantic queries over the ingested taxonomy.
type SearchService struct {
	store       store.VectorSearcher
	embedder    QueryEmbedder
	concurrency int
}

// NewSearchService creates a search service. embedder may be nil, in which
// case every search fails with ErrNoEmbedder.
func NewSearchService(s store.VectorSearcher, embedder QueryEmbedder) *SearchService {
	return &SearchService{store: s, embedder: embedder, concurrency: 1}
}

// WithConcurrency sets how many postings BatchEnrich handles at once.
func (s *SearchService) WithConcurrency(n int) *SearchService {
	s.concurrency = max(n, 1)
	return s
}

// OccupationProfile is an occupation with its directly related concepts.
type OccupationProfile struct {
	Occupation          models.Object   `json:"occupation"`
	EssentialSkills     []models.Object `json:"essential_skills"`
	OptionalSkills      []models.Object `json:"optional_skills"`
	ISCOGroup           *models.Object  `json:"isco_group,omitempty"`
	BroaderOccupations  []models.Object `json:"broader_occupations"`
	NarrowerOccupations []models.Object `json:"narrower_occupations"`
}

// SearchOccupations returns occupations similar to text.
func (s *SearchService) SearchOccupations(ctx context.Context, text string, limit int, threshold float64) ([]models.Object, error) {
	return s.search(ctx, models.ClassOccupation, text, limit, threshold)
}

// SearchSkills returns skills similar to text.
func (s *SearchService) SearchSkills(ctx context.Context, text string, limit int, threshold float64) ([]models.Object, error) {
	return s.search(ctx, models.ClassSkill, text, limit, threshold)
}

func (s *SearchService) search(ctx context.Context, class, text string, limit int, threshold float64) ([]models.Object, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.SearchByVector(ctx, class, vec, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", class, err)
	}
	slog.Debug("semantic search", "class", class, "query_len", len(text), "hits", len(hits))
	return hits, nil
}

// GetOccupationProfile loads an occupation by URI or object id together with
// its skills, ISCO group and hierarchy neighbours. It returns nil when the
// occupation does not exist.
func (s *SearchService) GetOccupationProfile(ctx context.Context, uriOrID string) (*OccupationProfile, error) {
	id := models.ObjectID(uriOrID)
	occ, err := s.store.GetObject(ctx, models.ClassOccupation, id)
	if err != nil {
		return nil, fmt.Errorf("get occupation %s: %w", id, err)
	}
	if occ == nil {
		return nil, nil
	}

	profile := &OccupationProfile{Occupation: *occ}
	follow := func(property string, reverse bool) []models.Object {
		objs, err := s.store.GetReferenced(ctx, models.ClassOccupation, id, property, reverse)
		if err != nil {
			slog.Warn("could not follow reference", "occupation", id, "property", property, "error", err)
			return nil
		}
		return objs
	}

	profile.EssentialSkills = follow(models.RefHasEssentialSkill, false)
	profile.OptionalSkills = follow(models.RefHasOptionalSkill, false)
	profile.BroaderOccupations = follow(models.RefBroaderOccupation, false)
	profile.NarrowerOccupations = follow(models.RefBroaderOccupation, true)
	if groups := follow(models.RefMemberOfISCOGroup, false); len(groups) > 0 {
		profile.ISCOGroup = &groups[0]
	}
	return profile, nil
}
