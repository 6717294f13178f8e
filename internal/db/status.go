package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// statusRow is the stored shape of the status record. Details is kept as
// a JSON string so older payloads survive schema changes.
type statusRow struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Details   string `json:"details"`
}

func statusRecordID() surrealmodels.RecordID {
	return surrealmodels.NewRecordID(TableStatus, statusKey)
}

// ReadStatus returns the singleton status record. A missing record or
// table reads as not_started.
func (c *Client) ReadStatus(ctx context.Context) (models.StatusRecord, error) {
	results, err := surrealdb.Query[[]statusRow](ctx, c.db,
		`SELECT status, timestamp, details FROM $rec`,
		map[string]any{"rec": statusRecordID()})
	if err != nil {
		return models.StatusRecord{}, fmt.Errorf("read status: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.StatusRecord{Status: models.StateNotStarted}, nil
	}

	row := (*results)[0].Result[0]
	return models.StatusRecord{
		Status:    models.ParseIngestionState(row.Status),
		Timestamp: row.Timestamp,
		Details:   models.ParseDetails(row.Details),
	}, nil
}

// WriteStatus upserts the singleton status record.
func (c *Client) WriteStatus(ctx context.Context, rec models.StatusRecord) error {
	details, err := models.MarshalDetails(rec.Details)
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}

	err = c.exec(ctx, `UPSERT $rec CONTENT $row`, map[string]any{
		"rec": statusRecordID(),
		"row": statusRow{Status: string(rec.Status), Timestamp: rec.Timestamp, Details: details},
	})
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}
