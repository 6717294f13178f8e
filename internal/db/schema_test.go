package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestTableFor(t *testing.T) {
	for _, class := range models.AllClasses {
		tb, err := TableFor(class)
		require.NoError(t, err, class)
		assert.Equal(t, class, classFor(tb))
	}

	_, err := TableFor("Nope")
	assert.Error(t, err)
}

func TestSchemaSQLVectorIndexes(t *testing.T) {
	withVectors := SchemaSQL(384)
	assert.Contains(t, withVectors, "DEFINE INDEX IF NOT EXISTS skill_embedding ON skill FIELDS embedding HNSW DIMENSION 384")
	assert.Equal(t, len(models.AllClasses), strings.Count(withVectors, "HNSW"))

	without := SchemaSQL(0)
	assert.NotContains(t, without, "HNSW")
	assert.Contains(t, without, "DEFINE TABLE IF NOT EXISTS reference TYPE RELATION")
	assert.Contains(t, without, "DEFINE TABLE IF NOT EXISTS ingestion_status")
}

func TestReferenceIDIsStable(t *testing.T) {
	ref := models.Reference{
		FromClass: models.ClassOccupation, FromID: "o1",
		Property: models.RefHasEssentialSkill,
		ToClass:  models.ClassSkill, ToID: "s1",
	}
	assert.Equal(t, ReferenceID(ref), ReferenceID(ref))

	other := ref
	other.Property = models.RefHasOptionalSkill
	assert.NotEqual(t, ReferenceID(ref), ReferenceID(other))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalize([]any{"a", "b"}))
	assert.Equal(t, []any{"a", 1}, normalize([]any{"a", 1}))
	assert.Equal(t, "x", normalize("x"))
}

func TestRecordKey(t *testing.T) {
	key, err := recordKey(surrealmodels.NewRecordID("occupation", "abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", key)

	_, err = recordKey(surrealmodels.NewRecordID("occupation", 42))
	assert.ErrorIs(t, err, ErrUnexpectedResult)
}

func TestWrapQueryError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"Transaction conflict: Write conflict", ErrTransactionConflict},
		{"The table 'skill' does not exist", ErrSchemaMissing},
	}
	for _, tt := range tests {
		err := wrapQueryError(&surrealdb.QueryError{Message: tt.msg})
		assert.ErrorIs(t, err, tt.want, tt.msg)
		assert.ErrorContains(t, err, tt.msg)
	}

	other := &surrealdb.QueryError{Message: "Parse error"}
	assert.Same(t, other, wrapQueryError(other))

	plain := errors.New("socket closed")
	assert.Equal(t, plain, wrapQueryError(plain))
	assert.NoError(t, wrapQueryError(nil))
}
