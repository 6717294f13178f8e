// Package reader loads ESCO CSV exports and feeds them to the ingestion steps in batches.
package reader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// HeartbeatInterval is the row modulus at which batch processing reports liveness.
const HeartbeatInterval = 1000

// DefaultBatchSize is used when a Reader is built with a non-positive batch size.
const DefaultBatchSize = 100

// ErrSourceNotFound is returned when a source file does not exist.
var ErrSourceNotFound = errors.New("source file not found")

// Row is one CSV record keyed by column name.
type Row map[string]string

// Get returns the trimmed value of col, or "" if the column is absent.
func (r Row) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// First returns the first non-empty value among cols.
// ESCO releases disagree on suffixes (preferredLabel vs preferredLabel_en).
func (r Row) First(cols ...string) string {
	for _, c := range cols {
		if v := r.Get(c); v != "" {
			return v
		}
	}
	return ""
}

// Table is a fully loaded CSV file.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether col is present in the header.
func (t *Table) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// BatchFunc processes one slice of rows. Errors abort the iteration.
type BatchFunc func(ctx context.Context, batch []Row) error

// HeartbeatFunc is called with the rows processed so far and the table size.
type HeartbeatFunc func(processed, total int)

// Reader reads CSV files from a data directory.
type Reader struct {
	dataDir   string
	batchSize int
}

// New creates a Reader for dataDir.
func New(dataDir string, batchSize int) *Reader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Reader{dataDir: dataDir, batchSize: batchSize}
}

// DataDir returns the directory files are read from.
func (r *Reader) DataDir() string {
	return r.dataDir
}

// BatchSize returns the configured batch size.
func (r *Reader) BatchSize() int {
	return r.batchSize
}

// Path returns the absolute location of a source file.
func (r *Reader) Path(name string) string {
	return filepath.Join(r.dataDir, name)
}

// Exists reports whether a source file is present and readable.
func (r *Reader) Exists(name string) bool {
	f, err := os.Open(r.Path(name))
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// ReadTable loads a whole file into memory.
// A missing file returns an error wrapping ErrSourceNotFound.
func (r *Reader) ReadTable(name string) (*Table, error) {
	f, err := os.Open(r.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	t.Name = name
	return t, nil
}

// Parse reads CSV content with a header row. Ragged rows are tolerated:
// missing trailing cells read as "" and extra cells are dropped.
func Parse(src io.Reader) (*Table, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	cols := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[i] = strings.TrimSpace(h)
	}

	t := &Table{Columns: cols}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(t.Rows)+2, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if i < len(rec) {
				row[c] = rec[i]
			} else {
				row[c] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ProcessInBatches loads name and hands it to fn in slices of the batch size.
// hb is invoked whenever the processed row count is a multiple of
// HeartbeatInterval. A missing file logs a warning and returns nil.
func (r *Reader) ProcessInBatches(ctx context.Context, name string, fn BatchFunc, hb HeartbeatFunc) error {
	t, err := r.ReadTable(name)
	if errors.Is(err, ErrSourceNotFound) {
		slog.Warn("source file missing, skipping", "file", name, "dir", r.dataDir)
		return nil
	}
	if err != nil {
		return err
	}
	return r.ProcessTable(ctx, t, fn, hb)
}

// ProcessTable batches an already loaded table.
func (r *Reader) ProcessTable(ctx context.Context, t *Table, fn BatchFunc, hb HeartbeatFunc) error {
	total := t.Len()
	slog.Debug("processing table", "file", t.Name, "rows", total, "batch_size", r.batchSize)

	processed := 0
	for start := 0; start < total; start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+r.batchSize, total)
		if err := fn(ctx, t.Rows[start:end]); err != nil {
			return fmt.Errorf("batch %d-%d of %s: %w", start, end, t.Name, err)
		}

		processed = end
		if hb != nil && processed%HeartbeatInterval == 0 {
			hb(processed, total)
		}
	}
	return nil
}
