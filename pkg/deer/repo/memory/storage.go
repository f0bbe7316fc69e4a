package memory

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
)

// Storage implements deer.Storage using in-memory maps. Every read is
// strongly consistent; the requested consistency is ignored.
type Storage struct {
	mu     sync.RWMutex
	tables map[deer.Table]map[string]deer.Columns // table -> row key -> cells
}

// New creates a new in-memory storage
func New() *Storage {
	return &Storage{tables: make(map[deer.Table]map[string]deer.Columns)}
}

var _ deer.Storage = (*Storage)(nil)

func (s *Storage) Read(ctx context.Context, table deer.Table, keys []string, _ deer.Consistency) (map[string]deer.Columns, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]deer.Columns, len(keys))
	rows := s.tables[table]
	for _, key := range keys {
		row, ok := rows[key]
		if !ok {
			continue
		}
		// Return a copy to prevent external modifications
		cp := make(deer.Columns, len(row))
		for name, v := range row {
			cp[name] = bytes.Clone(v)
		}
		out[key] = cp
	}
	return out, nil
}

func (s *Storage) Execute(ctx context.Context, batch *deer.Batch, _ deer.Consistency) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range batch.Mutations() {
		rows, ok := s.tables[m.Table]
		if !ok {
			rows = make(map[string]deer.Columns)
			s.tables[m.Table] = rows
		}
		row := rows[m.Key]
		if m.DeleteRow {
			row = nil
		}
		for name := range row {
			for _, prefix := range m.DeletePrefixes {
				if strings.HasPrefix(name, prefix) {
					delete(row, name)
				}
			}
		}
		for _, name := range m.Deletes {
			delete(row, name)
		}
		if len(m.Puts) > 0 && row == nil {
			row = make(deer.Columns, len(m.Puts))
		}
		for name, v := range m.Puts {
			row[name] = bytes.Clone(v)
		}

		if len(row) == 0 {
			delete(rows, m.Key)
			continue
		}
		rows[m.Key] = row
	}
	return nil
}

// Len returns the number of rows in a table.
func (s *Storage) Len(table deer.Table) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

// IDGenerator hands out ascending ids starting after the seed.
type IDGenerator struct {
	last atomic.Int64
}

// NewIDGenerator creates a generator whose first id is seed+1.
func NewIDGenerator(seed deer.Id) *IDGenerator {
	g := &IDGenerator{}
	g.last.Store(int64(seed))
	return g
}

func (g *IDGenerator) NextID(ctx context.Context) (deer.Id, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return deer.Id(g.last.Add(1)), nil
}
