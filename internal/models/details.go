package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DetailsKind tags a StepDetails variant on the wire.
type DetailsKind string

const (
	KindSchema       DetailsKind = "schema"
	KindEntity       DetailsKind = "entity"
	KindRelation     DetailsKind = "relation"
	KindRunStarted   DetailsKind = "run_started"
	KindRunCompleted DetailsKind = "run_completed"
	KindRunFailed    DetailsKind = "run_failed"
	KindUnknown      DetailsKind = "unknown"
)

// StepDetails is the payload of a status record.
// Implementations: SchemaStep, EntityStep, RelationStep, RunStarted,
// RunCompleted, RunFailed and UnknownDetails.
type StepDetails interface {
	Kind() DetailsKind
	Heartbeat() time.Time
	isStepDetails()
}

// SchemaStep is written while the schema is being ensured.
type SchemaStep struct {
	Step string
	At   time.Time
}

// EntityStep is written while an entity class is loading.
type EntityStep struct {
	Step      string
	Class     string
	Processed int
	Total     int
	At        time.Time
}

// RelationStep is written while a relation type is being built.
type RelationStep struct {
	Step     string
	Relation string
	Inserted int
	Skipped  int
	At       time.Time
}

// RunStarted is the first heartbeat of a run.
type RunStarted struct {
	RunID string
	At    time.Time
}

// RunCompleted is the terminal record of a successful run.
type RunCompleted struct {
	RunID          string
	StepsCompleted int
	Duration       time.Duration
	At             time.Time
}

// RunFailed is the terminal record of a failed run.
type RunFailed struct {
	RunID    string
	Step     string
	Error    string
	Duration time.Duration
	At       time.Time
}

// UnknownDetails holds a payload this version cannot interpret.
type UnknownDetails struct {
	Raw string
}

func (SchemaStep) Kind() DetailsKind     { return KindSchema }
func (EntityStep) Kind() DetailsKind     { return KindEntity }
func (RelationStep) Kind() DetailsKind   { return KindRelation }
func (RunStarted) Kind() DetailsKind     { return KindRunStarted }
func (RunCompleted) Kind() DetailsKind   { return KindRunCompleted }
func (RunFailed) Kind() DetailsKind      { return KindRunFailed }
func (UnknownDetails) Kind() DetailsKind { return KindUnknown }

func (d SchemaStep) Heartbeat() time.Time   { return d.At }
func (d EntityStep) Heartbeat() time.Time   { return d.At }
func (d RelationStep) Heartbeat() time.Time { return d.At }
func (d RunStarted) Heartbeat() time.Time   { return d.At }
func (d RunCompleted) Heartbeat() time.Time { return d.At }
func (d RunFailed) Heartbeat() time.Time    { return d.At }
func (UnknownDetails) Heartbeat() time.Time { return time.Time{} }

func (SchemaStep) isStepDetails()     {}
func (EntityStep) isStepDetails()     {}
func (RelationStep) isStepDetails()   {}
func (RunStarted) isStepDetails()     {}
func (RunCompleted) isStepDetails()   {}
func (RunFailed) isStepDetails()      {}
func (UnknownDetails) isStepDetails() {}

// detailsWire is the JSON shape stored in the status record's details field.
// step, progress, last_heartbeat and error keep the names older consumers read.
type detailsWire struct {
	Kind            DetailsKind `json:"kind"`
	Step            string      `json:"step,omitempty"`
	Progress        string      `json:"progress,omitempty"`
	LastHeartbeat   string      `json:"last_heartbeat,omitempty"`
	Error           string      `json:"error,omitempty"`
	Class           string      `json:"class,omitempty"`
	Processed       *int        `json:"processed,omitempty"`
	Total           *int        `json:"total,omitempty"`
	Relation        string      `json:"relation,omitempty"`
	Inserted        *int        `json:"inserted,omitempty"`
	Skipped         *int        `json:"skipped,omitempty"`
	RunID           string      `json:"run_id,omitempty"`
	StepsCompleted  *int        `json:"steps_completed,omitempty"`
	DurationSeconds *float64    `json:"duration_seconds,omitempty"`
}

// ProgressString renders the legacy progress field: "processed/total" for
// entity steps with a known total, otherwise the step name.
func ProgressString(d StepDetails) string {
	switch v := d.(type) {
	case EntityStep:
		if v.Total > 0 {
			return fmt.Sprintf("%d/%d", v.Processed, v.Total)
		}
		return v.Step
	case SchemaStep:
		return v.Step
	case RelationStep:
		return v.Step
	case RunStarted:
		return "starting"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	default:
		return ""
	}
}

// MarshalDetails encodes details into the embedded JSON string stored with the status record.
func MarshalDetails(d StepDetails) (string, error) {
	if d == nil {
		return "", nil
	}
	if u, ok := d.(UnknownDetails); ok {
		return u.Raw, nil
	}

	w := detailsWire{
		Kind:     d.Kind(),
		Progress: ProgressString(d),
	}
	if hb := d.Heartbeat(); !hb.IsZero() {
		w.LastHeartbeat = hb.UTC().Format(time.RFC3339Nano)
	}

	switch v := d.(type) {
	case SchemaStep:
		w.Step = v.Step
	case EntityStep:
		w.Step = v.Step
		w.Class = v.Class
		w.Processed = &v.Processed
		w.Total = &v.Total
	case RelationStep:
		w.Step = v.Step
		w.Relation = v.Relation
		w.Inserted = &v.Inserted
		w.Skipped = &v.Skipped
	case RunStarted:
		w.Step = "starting"
		w.RunID = v.RunID
	case RunCompleted:
		w.Step = "completed"
		w.RunID = v.RunID
		w.StepsCompleted = &v.StepsCompleted
		secs := v.Duration.Seconds()
		w.DurationSeconds = &secs
	case RunFailed:
		w.Step = v.Step
		w.RunID = v.RunID
		w.Error = v.Error
		secs := v.Duration.Seconds()
		w.DurationSeconds = &secs
	}

	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal details: %w", err)
	}
	return string(b), nil
}

// ParseDetails decodes a stored details string. It never fails: payloads
// without a recognizable kind come back as UnknownDetails.
func ParseDetails(raw string) StepDetails {
	if raw == "" {
		return nil
	}

	var w detailsWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return UnknownDetails{Raw: raw}
	}

	at, _ := ParseTimestamp(w.LastHeartbeat)

	switch w.Kind {
	case KindSchema:
		return SchemaStep{Step: w.Step, At: at}
	case KindEntity:
		return EntityStep{Step: w.Step, Class: w.Class, Processed: deref(w.Processed), Total: deref(w.Total), At: at}
	case KindRelation:
		return RelationStep{Step: w.Step, Relation: w.Relation, Inserted: deref(w.Inserted), Skipped: deref(w.Skipped), At: at}
	case KindRunStarted:
		return RunStarted{RunID: w.RunID, At: at}
	case KindRunCompleted:
		return RunCompleted{RunID: w.RunID, StepsCompleted: deref(w.StepsCompleted), Duration: seconds(w.DurationSeconds), At: at}
	case KindRunFailed:
		return RunFailed{RunID: w.RunID, Step: w.Step, Error: w.Error, Duration: seconds(w.DurationSeconds), At: at}
	default:
		return UnknownDetails{Raw: raw}
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func seconds(p *float64) time.Duration {
	if p == nil {
		return 0
	}
	return time.Duration(*p * float64(time.Second))
}

// timestampLayouts are tried in order. The naive layouts cover timestamps
// written without a zone, which are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp as written by any past writer.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// FormatTimestamp renders t the way status records are written.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
