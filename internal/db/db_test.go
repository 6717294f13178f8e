// Package db provides integration tests for the SurrealDB store.
package db

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testDimension = 4

var testDB *Client
var testContainer testcontainers.Container

// TestMain starts a SurrealDB container unless running with -short.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:                fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace:          "test",
		Database:           "esco",
		Username:           "root",
		Password:           "root",
		AuthLevel:          "root",
		EmbeddingDimension: testDimension,
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// freshSchema drops and recreates every table.
func freshSchema(t *testing.T) context.Context {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	require.NoError(t, testDB.DeleteSchema(ctx))
	require.NoError(t, testDB.EnsureSchema(ctx))
	return ctx
}

func addOccupation(t *testing.T, ctx context.Context, id, label, iscoCode string, emb []float32) {
	t.Helper()
	props := map[string]any{
		models.PropURI:            "http://data.europa.eu/esco/occupation/" + id,
		models.PropPreferredLabel: label,
		models.PropAltLabels:      []string{label + " alt"},
		models.PropISCOCode:       iscoCode,
	}
	if emb != nil {
		props[models.PropEmbedding] = emb
	}
	require.NoError(t, testDB.BatchAddObjects(ctx, models.ClassOccupation, []map[string]any{props}, []string{id}))
}

func TestIsConnected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	assert.True(t, testDB.IsConnected(context.Background()))
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := freshSchema(t)
	require.NoError(t, testDB.EnsureSchema(ctx))

	result, err := testDB.Query(ctx, "INFO FOR DB", nil)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestStatusRoundTrip(t *testing.T) {
	ctx := freshSchema(t)

	rec, err := testDB.ReadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateNotStarted, rec.Status)

	now := time.Now()
	require.NoError(t, testDB.WriteStatus(ctx, models.StatusRecord{
		Status:    models.StateInProgress,
		Timestamp: models.FormatTimestamp(now),
		Details:   models.EntityStep{Step: "ingest_skills", Class: models.ClassSkill, Processed: 1000, Total: 3000, At: now},
	}))
	require.NoError(t, testDB.WriteStatus(ctx, models.StatusRecord{
		Status:    models.StateFailed,
		Timestamp: models.FormatTimestamp(now),
		Details:   models.RunFailed{RunID: "r1", Step: "ingest_skills", Error: "boom", At: now},
	}))

	rec, err = testDB.ReadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, rec.Status)
	failed, ok := rec.Details.(models.RunFailed)
	require.True(t, ok, "details should decode as RunFailed, got %T", rec.Details)
	assert.Equal(t, "boom", failed.Error)
}

func TestObjectsAndCounts(t *testing.T) {
	ctx := freshSchema(t)

	addOccupation(t, ctx, "o1", "software developer", "2512", nil)
	addOccupation(t, ctx, "o2", "baker", "7512", nil)
	// Upsert of an existing id must not duplicate.
	addOccupation(t, ctx, "o1", "software developer", "2512", nil)

	n, err := testDB.Repository(models.ClassOccupation).CountObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := testDB.GetAllIDs(ctx, models.ClassOccupation)
	require.NoError(t, err)
	assert.Contains(t, ids, "o1")
	assert.Contains(t, ids, "o2")

	objs, err := testDB.GetObjects(ctx, models.ClassOccupation, &store.Filter{Property: models.PropISCOCode, Value: "7512"})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "o2", objs[0].ID)
	assert.Equal(t, "baker", objs[0].Label())
	assert.Equal(t, []string{"baker alt"}, objs[0].Properties[models.PropAltLabels])

	obj, err := testDB.GetObject(ctx, models.ClassOccupation, "missing")
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestReferencesAreIdempotent(t *testing.T) {
	ctx := freshSchema(t)

	addOccupation(t, ctx, "o1", "software developer", "2512", nil)
	require.NoError(t, testDB.BatchAddObjects(ctx, models.ClassSkill, []map[string]any{
		{models.PropURI: "http://data.europa.eu/esco/skill/s1", models.PropPreferredLabel: "use Go"},
	}, []string{"s1"}))

	ref := models.Reference{
		FromClass: models.ClassOccupation, FromID: "o1",
		Property: models.RefHasEssentialSkill,
		ToClass:  models.ClassSkill, ToID: "s1",
	}
	require.NoError(t, testDB.BatchAddReferences(ctx, []models.Reference{ref}))
	require.NoError(t, testDB.BatchAddReferences(ctx, []models.Reference{ref, ref}))

	skills, err := testDB.GetReferenced(ctx, models.ClassOccupation, "o1", models.RefHasEssentialSkill, false)
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "s1", skills[0].ID)
	assert.Equal(t, models.ClassSkill, skills[0].Class)

	occs, err := testDB.GetReferenced(ctx, models.ClassSkill, "s1", models.RefHasEssentialSkill, true)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, "o1", occs[0].ID)
}

func TestSearchByVector(t *testing.T) {
	ctx := freshSchema(t)

	addOccupation(t, ctx, "o1", "software developer", "2512", []float32{1, 0, 0, 0})
	addOccupation(t, ctx, "o2", "baker", "7512", []float32{0, 1, 0, 0})

	hits, err := testDB.SearchByVector(ctx, models.ClassOccupation, []float32{1, 0.1, 0, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "o1", hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.9)
	assert.NotContains(t, hits[0].Properties, models.PropEmbedding)
}

func TestDeleteSchemaResetsStatus(t *testing.T) {
	ctx := freshSchema(t)

	require.NoError(t, testDB.WriteStatus(ctx, models.StatusRecord{
		Status:    models.StateCompleted,
		Timestamp: models.FormatTimestamp(time.Now()),
	}))
	require.NoError(t, testDB.DeleteSchema(ctx))

	rec, err := testDB.ReadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateNotStarted, rec.Status)
}
