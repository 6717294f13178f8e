package ingest

import (
	"context"
	"os"
	"testing"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/reader"
	"github.com/raphaelgruber/escograph/internal/store"
	"github.com/raphaelgruber/escograph/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func count(t *testing.T, s store.Store, class string) int {
	t.Helper()
	n, err := s.Repository(class).CountObjects(context.Background())
	require.NoError(t, err)
	return n
}

func TestOrchestratorRunsAllSteps(t *testing.T) {
	ctx := context.Background()
	st := newRecordingStore()
	o := NewOrchestrator(st, reader.New(writeFixture(t, nil), 2), nil, nil)

	var progress []models.Progress
	report, err := o.Run(ctx, func(p models.Progress) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, models.TotalSteps, report.StepsCompleted)
	assert.Equal(t, StepCreateBroaderSkillRelations, report.LastCompletedStep)
	assert.Empty(t, report.FailedStep)
	for _, name := range o.Steps() {
		assert.Equal(t, models.StepCompleted, report.StepResults[name], name)
	}

	// One heartbeat before every step, in script order.
	assert.Equal(t, o.Steps(), st.stepsBeaten())
	for i, name := range o.Steps() {
		assert.Equal(t, i+1, StepNumber(name), name)
	}
	assert.Zero(t, StepNumber("starting"))
	assert.Equal(t, 1, progress[0].Step)
	assert.Equal(t, models.TotalSteps, progress[len(progress)-1].Step)

	assert.Equal(t, 2, count(t, st, models.ClassISCOGroup))
	assert.Equal(t, 3, count(t, st, models.ClassOccupation))
	assert.Equal(t, 3, count(t, st, models.ClassSkill))
	assert.Equal(t, 1, count(t, st, models.ClassSkillGroup))
	assert.Equal(t, 1, count(t, st, models.ClassSkillCollection))
	assert.Len(t, st.References(), fixtureRefs)

	assert.Equal(t, 1, report.Entities[models.ClassOccupation].Skipped)
	assert.Equal(t, 1, report.Relations[StepCreateSkillRelations].Skipped)
	assert.Equal(t, 1, report.Relations[StepCreateHierarchicalRelations].Skipped)
	assert.Equal(t, 1, report.Relations[StepCreateISCOGroupRelations].Skipped)

	assert.Len(t, o.Metrics().Snapshot().Steps, models.TotalSteps)
}

func TestOrchestratorRerunConverges(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	o := NewOrchestrator(st, reader.New(writeFixture(t, nil), 100), nil, nil)

	_, err := o.Run(ctx, nil)
	require.NoError(t, err)
	_, err = o.Run(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, count(t, st, models.ClassOccupation))
	assert.Equal(t, 3, count(t, st, models.ClassSkill))
	assert.Len(t, st.References(), fixtureRefs)
}

func TestOrchestratorStopsAtFailingStep(t *testing.T) {
	ctx := context.Background()
	st := newRecordingStore()
	st.refErr = errBoom
	o := NewOrchestrator(st, reader.New(writeFixture(t, nil), 100), nil, nil)

	report, err := o.Run(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 7, stepErr.Index)
	assert.Equal(t, StepCreateSkillRelations, stepErr.Step)

	require.NotNil(t, report)
	assert.Equal(t, 6, report.StepsCompleted)
	assert.Equal(t, StepIngestSkillCollections, report.LastCompletedStep)
	assert.Equal(t, models.StepFailed, report.StepResults[StepCreateSkillRelations])
	assert.Equal(t, models.StepPending, report.StepResults[StepCreateBroaderSkillRelations])

	// Entity writes from steps 1-6 stay in place.
	assert.Equal(t, 3, count(t, st, models.ClassOccupation))
	assert.Equal(t, 1, st.refCalls, "no step after the failure ran")
}

func TestOrchestratorIgnoresHeartbeatFailures(t *testing.T) {
	st := newRecordingStore()
	st.statusErr = errBoom
	o := NewOrchestrator(st, reader.New(writeFixture(t, nil), 100), nil, nil)

	report, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.TotalSteps, report.StepsCompleted)
}

func TestOrchestratorWithMissingOptionalFiles(t *testing.T) {
	dir := writeFixture(t, nil)
	r := reader.New(dir, 100)
	for _, f := range []string{FileSkillGroups, FileSkillSkillRelations, FileSkillHierarchy} {
		require.NoError(t, os.Remove(r.Path(f)))
	}

	st := memstore.New()
	report, err := NewOrchestrator(st, r, nil, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.TotalSteps, report.StepsCompleted)
	assert.Equal(t, 0, count(t, st, models.ClassSkillGroup))
}

func TestEntityIngestorBuildsProperties(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := NewEntityIngestor(st, reader.New(writeFixture(t, nil), 100), nil, nil)

	stats, err := e.IngestOccupations(ctx, StepHooks{})
	require.NoError(t, err)
	assert.Equal(t, EntityStats{Class: models.ClassOccupation, Read: 4, Written: 3, Skipped: 1}, stats)

	o1, err := st.GetObject(ctx, models.ClassOccupation, "o1")
	require.NoError(t, err)
	require.NotNil(t, o1)
	assert.Equal(t, "software developer", o1.Label())
	assert.Equal(t, []string{"programmer", "coder"}, o1.Properties[models.PropAltLabels])
	assert.Equal(t, "2512", o1.String(models.PropISCOCode))
	assert.Equal(t, "", o1.String(models.PropDefinition))

	_, err = e.IngestISCOGroups(ctx, StepHooks{})
	require.NoError(t, err)
	g, err := st.GetObject(ctx, models.ClassISCOGroup, "C7512")
	require.NoError(t, err)
	assert.Equal(t, "Bakers, pastry-cooks", g.Label())
	assert.Equal(t, "4", g.String(models.PropISCOLevel))
}

func TestEntityIngestorSkipsURIWithoutIdentifier(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	dir := writeFixture(t, map[string]string{
		FileSkills: "conceptType,conceptUri,skillType,reuseLevel,preferredLabel,altLabels,description\n" +
			"KnowledgeSkillCompetence,/,skill/competence,cross-sector,slash only,,\n" +
			"KnowledgeSkillCompetence," + escoBase + "skill/s1,skill/competence,cross-sector,use Go,,\n",
	})
	e := NewEntityIngestor(st, reader.New(dir, 100), nil, nil)

	stats, err := e.IngestSkills(ctx, StepHooks{})
	require.NoError(t, err)
	assert.Equal(t, EntityStats{Class: models.ClassSkill, Read: 2, Written: 1, Skipped: 1}, stats)

	ids, err := st.GetAllIDs(ctx, models.ClassSkill)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"s1": {}}, ids)
}

func TestEntityIngestorAttachesEmbeddings(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	emb := &fakeEmbedder{}
	e := NewEntityIngestor(st, reader.New(writeFixture(t, nil), 2), emb, nil)

	var progress [][2]int
	_, err := e.IngestSkills(ctx, StepHooks{Progress: func(p, total int) { progress = append(progress, [2]int{p, total}) }})
	require.NoError(t, err)

	assert.Equal(t, 2, emb.calls)
	assert.Equal(t, [][2]int{{2, 3}, {3, 3}}, progress)

	s1, err := st.GetObject(ctx, models.ClassSkill, "s1")
	require.NoError(t, err)
	vec, ok := s1.Properties[models.PropEmbedding].([]float32)
	require.True(t, ok)
	assert.Equal(t, float32(len("use Go. Write Go programs")), vec[0])
}

func TestEntityIngestorMissingFile(t *testing.T) {
	st := newRecordingStore()
	stats, err := NewEntityIngestor(st, reader.New(t.TempDir(), 100), nil, nil).IngestSkillGroups(context.Background(), StepHooks{})
	require.NoError(t, err)
	assert.Zero(t, stats.Read)
	assert.Zero(t, st.objectCalls[models.ClassSkillGroup])
}

func TestSplitAltLabels(t *testing.T) {
	assert.Equal(t, []string{}, splitAltLabels(""))
	assert.Equal(t, []string{"a", "b", "c"}, splitAltLabels("a| b\nc|"))
}

// loadEntities runs the entity steps so relation tests have endpoints.
func loadEntities(t *testing.T, st store.Store, r *reader.Reader) {
	t.Helper()
	ctx := context.Background()
	e := NewEntityIngestor(st, r, nil, nil)
	for _, fn := range []func(context.Context, StepHooks) (EntityStats, error){
		e.IngestISCOGroups, e.IngestOccupations, e.IngestSkills, e.IngestSkillGroups, e.IngestSkillCollections,
	} {
		_, err := fn(ctx, StepHooks{})
		require.NoError(t, err)
	}
}

func TestCreateSkillRelationsRequirementTypes(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	r := reader.New(writeFixture(t, nil), 100)
	loadEntities(t, st, r)

	stats, err := NewRelationBuilder(st, r, nil).CreateSkillRelations(ctx, StepHooks{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Queued)
	assert.Equal(t, 1, stats.Skipped)

	refs := st.References()
	assert.Contains(t, refs, models.Reference{FromClass: models.ClassOccupation, FromID: "o2", Property: models.RefHasOptionalSkill, ToClass: models.ClassSkill, ToID: "s3"})
	assert.Contains(t, refs, models.Reference{FromClass: models.ClassOccupation, FromID: "o2", Property: models.RefHasEssentialSkill, ToClass: models.ClassSkill, ToID: "s2"})
	assert.Contains(t, refs, models.Reference{FromClass: models.ClassOccupation, FromID: "o1", Property: models.RefHasEssentialSkill, ToClass: models.ClassSkill, ToID: "s1"})
}

func TestCreateHierarchicalRelationsEmptyFile(t *testing.T) {
	for name, content := range map[string]string{
		"header only": "conceptType,conceptUri,broaderType,broaderUri\n",
		"zero bytes":  "",
	} {
		t.Run(name, func(t *testing.T) {
			st := newRecordingStore()
			r := reader.New(writeFixture(t, map[string]string{FileOccupationHierarchy: content}), 100)
			loadEntities(t, st, r)

			stats, err := NewRelationBuilder(st, r, nil).CreateHierarchicalRelations(context.Background(), StepHooks{})
			require.NoError(t, err)
			assert.Zero(t, stats.Queued)
			assert.Zero(t, st.refCalls)
		})
	}
}

func TestCreateISCOGroupRelationsJoinsOnCode(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	r := reader.New(writeFixture(t, nil), 100)
	loadEntities(t, st, r)

	stats, err := NewRelationBuilder(st, r, nil).CreateISCOGroupRelations(ctx, StepHooks{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Skipped)
	assert.Contains(t, st.References(), models.Reference{FromClass: models.ClassOccupation, FromID: "o2", Property: models.RefMemberOfISCOGroup, ToClass: models.ClassISCOGroup, ToID: "C7512"})
}

func TestCreateBroaderSkillRelationsReachesSkillGroups(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	r := reader.New(writeFixture(t, nil), 100)
	loadEntities(t, st, r)

	stats, err := NewRelationBuilder(st, r, nil).CreateBroaderSkillRelations(ctx, StepHooks{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
	assert.Contains(t, st.References(), models.Reference{FromClass: models.ClassSkill, FromID: "s1", Property: models.RefBroaderSkill, ToClass: models.ClassSkillGroup, ToID: "g1"})
}

func TestRelationBuilderCacheReset(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	r := reader.New(writeFixture(t, nil), 100)
	b := NewRelationBuilder(st, r, nil)

	// Nothing loaded yet: every row is skipped and the empty id sets are cached.
	stats, err := b.CreateSkillSkillRelations(ctx, StepHooks{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	loadEntities(t, st, r)

	stats, err = b.CreateSkillSkillRelations(ctx, StepHooks{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Queued, "stale cache still hides new skills")

	b.ResetCache()
	stats, err = b.CreateSkillSkillRelations(ctx, StepHooks{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
}

func TestSkillRequirement(t *testing.T) {
	assert.Equal(t, models.RefHasOptionalSkill, skillRequirement("optional"))
	assert.Equal(t, models.RefHasOptionalSkill, skillRequirement(" Optional "))
	assert.Equal(t, models.RefHasEssentialSkill, skillRequirement("essential"))
	assert.Equal(t, models.RefHasEssentialSkill, skillRequirement("x"))
	assert.Equal(t, models.RefHasEssentialSkill, skillRequirement(""))
}
