package service

import (
	"context"
	"strings"
	"testing"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text mentioning bread to one axis and everything
// else to the other.
type keywordEmbedder struct {
	err error
}

func (e keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if strings.Contains(strings.ToLower(text), "bread") {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

func taxonomyObject(id, label string, emb []float32) map[string]any {
	return map[string]any{
		models.PropURI:            "http://data.europa.eu/esco/x/" + id,
		models.PropPreferredLabel: label,
		models.PropEmbedding:      emb,
	}
}

func seedTaxonomy(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.EnsureSchema(ctx))

	require.NoError(t, s.BatchAddObjects(ctx, models.ClassOccupation, []map[string]any{
		taxonomyObject("dev", "software developer", []float32{1, 0}),
		taxonomyObject("baker", "baker", []float32{0, 1}),
		taxonomyObject("ict", "ict professional", []float32{0.9, 0.1}),
	}, []string{"dev", "baker", "ict"}))
	require.NoError(t, s.BatchAddObjects(ctx, models.ClassSkill, []map[string]any{
		taxonomyObject("go", "use go", []float32{1, 0}),
		taxonomyObject("review", "perform code review", []float32{0, 1}),
		taxonomyObject("bake", "bake bread", []float32{0, 1}),
	}, []string{"go", "review", "bake"}))
	require.NoError(t, s.BatchAddObjects(ctx, models.ClassISCOGroup, []map[string]any{
		{models.PropURI: "http://data.europa.eu/esco/isco/C2512", models.PropPreferredLabel: "software developers", models.PropCode: "2512"},
	}, []string{"C2512"}))

	require.NoError(t, s.BatchAddReferences(ctx, []models.Reference{
		{FromClass: models.ClassOccupation, FromID: "dev", Property: models.RefHasEssentialSkill, ToClass: models.ClassSkill, ToID: "go"},
		{FromClass: models.ClassOccupation, FromID: "dev", Property: models.RefHasEssentialSkill, ToClass: models.ClassSkill, ToID: "review"},
		{FromClass: models.ClassOccupation, FromID: "dev", Property: models.RefMemberOfISCOGroup, ToClass: models.ClassISCOGroup, ToID: "C2512"},
		{FromClass: models.ClassOccupation, FromID: "dev", Property: models.RefBroaderOccupation, ToClass: models.ClassOccupation, ToID: "ict"},
	}))
	return s
}

func TestSearchOccupations(t *testing.T) {
	svc := NewSearchService(seedTaxonomy(t), keywordEmbedder{})

	hits, err := svc.SearchOccupations(context.Background(), "writes go services", DefaultOccupationLimit, DefaultOccupationThreshold)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "dev", hits[0].ID)
	assert.Equal(t, "ict", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	hits, err = svc.SearchSkills(context.Background(), "fresh bread", 1, DefaultSkillThreshold)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "bake", hits[0].ID)
}

func TestSearchWithoutEmbedder(t *testing.T) {
	svc := NewSearchService(seedTaxonomy(t), nil)

	_, err := svc.SearchOccupations(context.Background(), "anything", 0, 0)
	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestSearchEmbedError(t *testing.T) {
	svc := NewSearchService(seedTaxonomy(t), keywordEmbedder{err: errBoom})

	_, err := svc.SearchSkills(context.Background(), "anything", 0, 0)
	assert.ErrorIs(t, err, errBoom)
}

func TestGetOccupationProfile(t *testing.T) {
	svc := NewSearchService(seedTaxonomy(t), keywordEmbedder{})
	ctx := context.Background()

	p, err := svc.GetOccupationProfile(ctx, "http://data.europa.eu/esco/x/dev")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "software developer", p.Occupation.Label())
	require.Len(t, p.EssentialSkills, 2)
	assert.Equal(t, "go", p.EssentialSkills[0].ID)
	assert.Empty(t, p.OptionalSkills)
	require.NotNil(t, p.ISCOGroup)
	assert.Equal(t, "2512", p.ISCOGroup.String(models.PropCode))
	require.Len(t, p.BroaderOccupations, 1)
	assert.Equal(t, "ict", p.BroaderOccupations[0].ID)

	broader, err := svc.GetOccupationProfile(ctx, "ict")
	require.NoError(t, err)
	require.Len(t, broader.NarrowerOccupations, 1)
	assert.Equal(t, "dev", broader.NarrowerOccupations[0].ID)

	missing, err := svc.GetOccupationProfile(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
