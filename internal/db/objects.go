package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/store"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Rows per statement. Larger batches are split.
const (
	writeChunk = 500
	idPage     = 5000
)

var (
	_ store.Store          = (*Client)(nil)
	_ store.VectorSearcher = (*Client)(nil)
)

// BatchAddObjects upserts objects of class in chunks. Objects without an
// id get a random one.
func (c *Client) BatchAddObjects(ctx context.Context, class string, objects []map[string]any, ids []string) error {
	if ids != nil && len(ids) != len(objects) {
		return fmt.Errorf("batch add %s: %d ids for %d objects", class, len(ids), len(objects))
	}
	tb, err := TableFor(class)
	if err != nil {
		return err
	}

	for start := 0; start < len(objects); start += writeChunk {
		end := min(start+writeChunk, len(objects))
		rows := make([]map[string]any, 0, end-start)
		for i := start; i < end; i++ {
			id := ""
			if ids != nil {
				id = ids[i]
			}
			if id == "" {
				id = uuid.NewString()
			}
			rows = append(rows, map[string]any{"id": id, "props": objects[i]})
		}

		err := c.exec(ctx, `
			FOR $row IN $rows {
				UPSERT type::record($tb, $row.id) CONTENT $row.props;
			};
		`, map[string]any{"tb": tb, "rows": rows})
		if err != nil {
			return fmt.Errorf("batch add %s: %w", class, err)
		}
		slog.Debug("upserted objects", "class", class, "count", len(rows))
	}
	return nil
}

// ReferenceID derives a stable edge id from the reference tuple so repeated
// inserts of the same edge collapse into one.
func ReferenceID(r models.Reference) string {
	key := strings.Join([]string{r.FromClass, r.FromID, r.Property, r.ToClass, r.ToID}, "\x1f")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// BatchAddReferences inserts edges into the reference table. Edges that
// already exist are ignored.
func (c *Client) BatchAddReferences(ctx context.Context, refs []models.Reference) error {
	for start := 0; start < len(refs); start += writeChunk {
		end := min(start+writeChunk, len(refs))
		rows := make([]map[string]any, 0, end-start)
		for _, r := range refs[start:end] {
			from, err := TableFor(r.FromClass)
			if err != nil {
				return err
			}
			to, err := TableFor(r.ToClass)
			if err != nil {
				return err
			}
			rows = append(rows, map[string]any{
				"id":       ReferenceID(r),
				"in":       surrealmodels.NewRecordID(from, r.FromID),
				"out":      surrealmodels.NewRecordID(to, r.ToID),
				"property": r.Property,
			})
		}

		if err := c.exec(ctx, `INSERT RELATION IGNORE INTO reference $rows`, map[string]any{"rows": rows}); err != nil {
			return fmt.Errorf("batch add references: %w", err)
		}
		slog.Debug("inserted references", "count", len(rows))
	}
	return nil
}

// GetAllIDs pages through the ids of class.
func (c *Client) GetAllIDs(ctx context.Context, class string) (map[string]struct{}, error) {
	tb, err := TableFor(class)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{})
	for start := 0; ; start += idPage {
		results, err := surrealdb.Query[[]surrealmodels.RecordID](ctx, c.db,
			`SELECT VALUE id FROM type::table($tb) LIMIT $limit START $start`,
			map[string]any{"tb": tb, "limit": idPage, "start": start})
		if err != nil {
			return nil, fmt.Errorf("get %s ids: %w", class, wrapQueryError(err))
		}
		if results == nil || len(*results) == 0 {
			break
		}
		page := (*results)[0].Result
		for _, rid := range page {
			id, err := recordKey(rid)
			if err != nil {
				return nil, fmt.Errorf("get %s ids: %w", class, err)
			}
			ids[id] = struct{}{}
		}
		if len(page) < idPage {
			break
		}
	}
	return ids, nil
}

// GetObjects returns objects of class without their embeddings.
func (c *Client) GetObjects(ctx context.Context, class string, filter *store.Filter) ([]models.Object, error) {
	tb, err := TableFor(class)
	if err != nil {
		return nil, err
	}

	sql := `SELECT * OMIT embedding FROM type::table($tb)`
	vars := map[string]any{"tb": tb}
	if filter != nil {
		sql += ` WHERE type::field($prop) = $value`
		vars["prop"] = filter.Property
		vars["value"] = filter.Value
	}

	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("get %s objects: %w", class, wrapQueryError(err))
	}
	return decodeObjects(results, class)
}

// GetObject returns one object or nil when it does not exist.
func (c *Client) GetObject(ctx context.Context, class, id string) (*models.Object, error) {
	tb, err := TableFor(class)
	if err != nil {
		return nil, err
	}

	results, err := surrealdb.Query[[]map[string]any](ctx, c.db,
		`SELECT * OMIT embedding FROM $rec`,
		map[string]any{"rec": surrealmodels.NewRecordID(tb, id)})
	if err != nil {
		return nil, fmt.Errorf("get %s:%s: %w", class, id, wrapQueryError(err))
	}
	objs, err := decodeObjects(results, class)
	if err != nil || len(objs) == 0 {
		return nil, err
	}
	return &objs[0], nil
}

// Repository returns the count handle for class.
func (c *Client) Repository(class string) store.ClassRepository {
	return classRepo{c: c, class: class}
}

type classRepo struct {
	c     *Client
	class string
}

func (r classRepo) CountObjects(ctx context.Context) (int, error) {
	tb, err := TableFor(r.class)
	if err != nil {
		return 0, err
	}

	results, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, r.c.db, `SELECT count() AS count FROM type::table($tb) GROUP ALL`, map[string]any{"tb": tb})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.class, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

// decodeObjects converts raw rows into objects. When class is empty it is
// derived from each row's record id.
func decodeObjects(results *[]surrealdb.QueryResult[[]map[string]any], class string) ([]models.Object, error) {
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	rows := (*results)[0].Result
	out := make([]models.Object, 0, len(rows))
	for _, row := range rows {
		obj, err := decodeObject(row, class)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func decodeObject(row map[string]any, class string) (models.Object, error) {
	var rid surrealmodels.RecordID
	switch v := row["id"].(type) {
	case surrealmodels.RecordID:
		rid = v
	case *surrealmodels.RecordID:
		rid = *v
	default:
		return models.Object{}, fmt.Errorf("%w: id is %T", ErrUnexpectedResult, row["id"])
	}
	id, err := recordKey(rid)
	if err != nil {
		return models.Object{}, err
	}
	if class == "" {
		class = classFor(rid.Table)
	}

	obj := models.Object{ID: id, Class: class, Properties: make(map[string]any, len(row))}
	for k, v := range row {
		switch k {
		case "id":
		case "score":
			obj.Score = toFloat(v)
		default:
			obj.Properties[k] = normalize(v)
		}
	}
	return obj, nil
}

// normalize turns decoded string arrays back into []string.
func normalize(v any) any {
	arr, ok := v.([]any)
	if !ok {
		return v
	}
	strs := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return v
		}
		strs = append(strs, s)
	}
	return strs
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}

// recordKey returns the string key of rid. Every table is keyed by the
// ESCO identifier, so numeric or composite keys mean foreign data.
func recordKey(rid surrealmodels.RecordID) (string, error) {
	key, ok := rid.ID.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s key is %T", ErrUnexpectedResult, rid.Table, rid.ID)
	}
	return key, nil
}
