package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/store/memstore"
	"github.com/stretchr/testify/require"
)

const escoBase = "http://data.europa.eu/esco/"

// fixture is a miniature ESCO export covering every source file.
var fixture = map[string]string{
	FileISCOGroups: "conceptType,conceptUri,code,preferredLabel,altLabels,description\n" +
		"ISCOGroup," + escoBase + "isco/C2512,2512,Software developers,,Develop software\n" +
		"ISCOGroup," + escoBase + "isco/C7512,7512,\"Bakers, pastry-cooks\",,Bake\n",

	FileOccupations: "conceptType,conceptUri,iscoGroup,preferredLabel,altLabels,description,code\n" +
		"Occupation," + escoBase + "occupation/o1,2512,software developer,\"programmer|coder\",Writes code,2512.1\n" +
		"Occupation," + escoBase + "occupation/o2,7512,baker,,Bakes bread,7512.1\n" +
		"Occupation," + escoBase + "occupation/o3,9999,orphan occupation,,,\n" +
		"Occupation,,2512,no uri,,,\n",

	FileSkills: "conceptType,conceptUri,skillType,reuseLevel,preferredLabel,altLabels,description\n" +
		"KnowledgeSkillCompetence," + escoBase + "skill/s1,skill/competence,cross-sector,use Go,golang,Write Go programs\n" +
		"KnowledgeSkillCompetence," + escoBase + "skill/s2,skill/competence,sector-specific,bake bread,,\n" +
		"KnowledgeSkillCompetence," + escoBase + "skill/s3,skill/competence,sector-specific,knead dough,,\n",

	FileSkillGroups: "conceptType,conceptUri,preferredLabel\n" +
		"SkillGroup," + escoBase + "skill/g1,programming\n",

	FileSkillCollections: "conceptType,conceptUri,preferredLabel\n" +
		"ConceptScheme," + escoBase + "concept-scheme/col1,digital skills collection\n",

	FileOccupationSkillRelations: "occupationUri,relationType,skillType,skillUri\n" +
		escoBase + "occupation/o1,essential,skill/competence," + escoBase + "skill/s1\n" +
		escoBase + "occupation/o2,optional,skill/competence," + escoBase + "skill/s3\n" +
		escoBase + "occupation/o2,x,skill/competence," + escoBase + "skill/s2\n" +
		escoBase + "occupation/o1,essential,skill/competence," + escoBase + "skill/missing\n",

	FileOccupationHierarchy: "conceptType,conceptUri,broaderType,broaderUri\n" +
		"Occupation," + escoBase + "occupation/o2,Occupation," + escoBase + "occupation/o1\n" +
		"Occupation," + escoBase + "occupation/o1,ISCOGroup," + escoBase + "isco/C2512\n",

	FileSkillCollectionRelations: "conceptSchemeUri,skillUri\n" +
		escoBase + "concept-scheme/col1," + escoBase + "skill/s1\n",

	FileSkillSkillRelations: "originalSkillUri,relationType,relatedSkillUri\n" +
		escoBase + "skill/s2,optional," + escoBase + "skill/s3\n",

	FileSkillHierarchy: "conceptType,conceptUri,broaderType,broaderUri\n" +
		"KnowledgeSkillCompetence," + escoBase + "skill/s1,SkillGroup," + escoBase + "skill/g1\n",
}

// fixtureRefs is the number of references the fixture produces.
const fixtureRefs = 9

func writeFixture(t *testing.T, overrides map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range fixture {
		if c, ok := overrides[name]; ok {
			content = c
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

// recordingStore wraps memstore to observe and break individual calls.
type recordingStore struct {
	*memstore.Store

	mu          sync.Mutex
	statuses    []models.StatusRecord
	refCalls    int
	refErr      error
	statusErr   error
	objectCalls map[string]int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: memstore.New(), objectCalls: make(map[string]int)}
}

func (s *recordingStore) WriteStatus(ctx context.Context, rec models.StatusRecord) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, rec)
	err := s.statusErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.WriteStatus(ctx, rec)
}

func (s *recordingStore) BatchAddReferences(ctx context.Context, refs []models.Reference) error {
	s.mu.Lock()
	s.refCalls++
	err := s.refErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.BatchAddReferences(ctx, refs)
}

func (s *recordingStore) BatchAddObjects(ctx context.Context, class string, objects []map[string]any, ids []string) error {
	s.mu.Lock()
	s.objectCalls[class]++
	s.mu.Unlock()
	return s.Store.BatchAddObjects(ctx, class, objects, ids)
}

// stepsBeaten returns the step names of the heartbeats in write order.
func (s *recordingStore) stepsBeaten() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var steps []string
	for _, rec := range s.statuses {
		switch d := rec.Details.(type) {
		case models.SchemaStep:
			steps = append(steps, d.Step)
		case models.EntityStep:
			if d.Processed == 0 {
				steps = append(steps, d.Step)
			}
		case models.RelationStep:
			if d.Inserted == 0 && d.Skipped == 0 {
				steps = append(steps, d.Step)
			}
		}
	}
	return steps
}

var errBoom = errors.New("boom")

// fakeEmbedder returns a fixed-size vector derived from text length.
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}
