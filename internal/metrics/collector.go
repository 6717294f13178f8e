// Package metrics keeps in-memory timings of an ingestion run: one series
// per pipeline step plus the embedding, store and status write calls.
package metrics

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"
)

// Series names. Pipeline steps are recorded under StepPrefix + step name.
const (
	OpEmbedding   = "embedding"
	OpStoreWrite  = "store_write"
	OpStatusWrite = "status_write"
	StepPrefix    = "step:"
)

// series accumulates the calls of one operation.
type series struct {
	calls      int64
	total      time.Duration
	fastest    time.Duration
	slowest    time.Duration
	items      int64
	itemsTimed time.Duration // time of calls that reported items
}

func (s *series) add(d time.Duration, items int64) {
	if s.calls == 0 || d < s.fastest {
		s.fastest = d
	}
	s.slowest = max(s.slowest, d)
	s.calls++
	s.total += d
	if items > 0 {
		s.items += items
		s.itemsTimed += d
	}
}

// OperationSnapshot is the computed view of one series.
type OperationSnapshot struct {
	Name        string
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// Nil unless the operation reported item counts.
	TotalItems  *int64
	AvgItems    *float64
	ItemsPerSec *float64
}

func (s *series) snapshot(name string) OperationSnapshot {
	op := OperationSnapshot{
		Name:        name,
		Count:       s.calls,
		TotalTimeMs: s.total.Milliseconds(),
		AvgTimeMs:   float64(s.total.Milliseconds()) / float64(s.calls),
		MinTimeMs:   s.fastest.Milliseconds(),
		MaxTimeMs:   s.slowest.Milliseconds(),
	}
	if s.items > 0 {
		total := s.items
		avg := float64(s.items) / float64(s.calls)
		op.TotalItems, op.AvgItems = &total, &avg
		if secs := s.itemsTimed.Seconds(); secs > 0 {
			rate := float64(s.items) / secs
			op.ItemsPerSec = &rate
		}
	}
	return op
}

// Snapshot is the state of a Collector at one point in time.
type Snapshot struct {
	Elapsed     time.Duration
	Steps       []OperationSnapshot // in first-recorded order
	Embedding   *OperationSnapshot
	StoreWrite  *OperationSnapshot
	StatusWrite *OperationSnapshot
}

// SlowestSteps returns up to n steps, slowest first. n <= 0 returns all.
func (s Snapshot) SlowestSteps(n int) []OperationSnapshot {
	steps := slices.Clone(s.Steps)
	slices.SortStableFunc(steps, func(a, b OperationSnapshot) int {
		return cmp.Compare(b.TotalTimeMs, a.TotalTimeMs)
	})
	if n > 0 && len(steps) > n {
		steps = steps[:n]
	}
	return steps
}

// Collector is safe for concurrent use.
type Collector struct {
	mu      sync.RWMutex
	started time.Time
	byName  map[string]*series
	names   []string
}

func NewCollector() *Collector {
	return &Collector{started: time.Now(), byName: make(map[string]*series)}
}

// RecordTiming records one call of op.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	c.RecordItems(op, d, 0)
}

// RecordItems records one call of op that handled items rows.
func (c *Collector) RecordItems(op string, d time.Duration, items int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byName[op]
	if !ok {
		s = &series{}
		c.byName[op] = s
		c.names = append(c.names, op)
	}
	s.add(d, items)
}

// RecordStep records the wall time of a pipeline step.
func (c *Collector) RecordStep(step string, d time.Duration) {
	c.RecordTiming(StepPrefix+step, d)
}

// StepDuration returns the accumulated time of step.
func (c *Collector) StepDuration(step string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.byName[StepPrefix+step]; ok {
		return s.total
	}
	return 0
}

func (c *Collector) op(name string) *OperationSnapshot {
	s, ok := c.byName[name]
	if !ok {
		return nil
	}
	snap := s.snapshot(name)
	return &snap
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Elapsed:     time.Since(c.started),
		Embedding:   c.op(OpEmbedding),
		StoreWrite:  c.op(OpStoreWrite),
		StatusWrite: c.op(OpStatusWrite),
	}
	for _, name := range c.names {
		if step, ok := strings.CutPrefix(name, StepPrefix); ok {
			snap.Steps = append(snap.Steps, c.byName[name].snapshot(step))
		}
	}
	return snap
}
