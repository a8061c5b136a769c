// Package table holds the in-memory record table of one analysis session.
package table

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/atikulmunna/logscope/internal/model"
)

// ShardStats records what was read from one shard.
type ShardStats struct {
	Server        string   `json:"server"`
	AccessLines   int      `json:"access_lines"`
	AccessSkipped int      `json:"access_skipped"`
	ErrorLines    int      `json:"error_lines"`
	ErrorSkipped  int      `json:"error_skipped"`
	FileErrors    []string `json:"file_errors,omitempty"`
}

// Table owns the records of one session. Records are kept in load order,
// which preserves line order within each shard. Snapshots are safe to read
// while the live path appends.
type Table struct {
	ID string

	mu     sync.RWMutex
	access []model.AccessRecord
	errors []model.ErrorRecord
	shards []ShardStats
}

// New returns an empty table with a fresh session ID.
func New() *Table {
	return &Table{ID: uuid.NewString()}
}

// AppendAccess adds enriched access records.
func (t *Table) AppendAccess(recs ...model.AccessRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access = append(t.access, recs...)
}

// AppendErrors adds error records.
func (t *Table) AppendErrors(recs ...model.ErrorRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, recs...)
}

func (t *Table) addShard(s ShardStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shards = append(t.shards, s)
}

// Access returns a snapshot of the access records.
func (t *Table) Access() []model.AccessRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.access)
}

// Errors returns a snapshot of the error records.
func (t *Table) Errors() []model.ErrorRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.errors)
}

// ErrorsOfType returns the error records with the given type label.
// An empty label returns them all.
func (t *Table) ErrorsOfType(typ string) []model.ErrorRecord {
	all := t.Errors()
	if typ == "" {
		return all
	}
	out := all[:0]
	for _, r := range all {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

// Shards returns the per-shard load statistics.
func (t *Table) Shards() []ShardStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.shards)
}

// Len returns the number of access and error records.
func (t *Table) Len() (access, errors int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.access), len(t.errors)
}
