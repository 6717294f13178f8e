package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// SearchByVector runs an HNSW nearest-neighbour query over class and keeps
// hits scoring at least minScore.
func (c *Client) SearchByVector(ctx context.Context, class string, vector []float32, limit int, minScore float64) ([]models.Object, error) {
	tb, err := TableFor(class)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	// HNSW with ef=40 for better recall
	sql := fmt.Sprintf(`
		SELECT *, vector::similarity::cosine(embedding, $emb) AS score
		OMIT embedding
		FROM type::table($tb)
		WHERE embedding <|%d,40|> $emb
		ORDER BY score DESC
	`, limit)

	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, sql, map[string]any{"tb": tb, "emb": vector})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", class, wrapQueryError(err))
	}
	objs, err := decodeObjects(results, class)
	if err != nil {
		return nil, err
	}

	out := objs[:0]
	for _, o := range objs {
		if o.Score >= minScore {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetReferenced returns the objects at the other end of property edges
// leaving (class, id), or entering it when reverse is set.
func (c *Client) GetReferenced(ctx context.Context, class, id, property string, reverse bool) ([]models.Object, error) {
	tb, err := TableFor(class)
	if err != nil {
		return nil, err
	}

	sql := `SELECT * OMIT embedding FROM (SELECT VALUE out FROM reference WHERE in = $rec AND property = $prop)`
	if reverse {
		sql = `SELECT * OMIT embedding FROM (SELECT VALUE in FROM reference WHERE out = $rec AND property = $prop)`
	}

	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, sql, map[string]any{
		"rec":  surrealmodels.NewRecordID(tb, id),
		"prop": property,
	})
	if err != nil {
		return nil, fmt.Errorf("get %s references of %s:%s: %w", property, class, id, wrapQueryError(err))
	}
	return decodeObjects(results, "")
}
