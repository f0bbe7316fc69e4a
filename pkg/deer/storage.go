package deer

import (
	"context"
	"sort"
	"strings"
)

// Table names a column family.
type Table string

// Tables written by the stores in this package.
const (
	TableContent                Table = "content"
	TableContentAliases         Table = "content_aliases"
	TableEquivalentContent      Table = "equivalent_content"
	TableEquivalentContentIndex Table = "equivalent_content_index"
	TableEquivalenceGraph       Table = "equivalence_graph"
	TableEquivalenceGraphIndex  Table = "equivalence_graph_index"
)

// Consistency selects how many replicas must agree on a read or write.
type Consistency int

const (
	// ConsistencyRelaxed may observe a write that is still in flight.
	ConsistencyRelaxed Consistency = iota
	// ConsistencyStrong observes every acknowledged write.
	ConsistencyStrong
)

func (c Consistency) String() string {
	if c == ConsistencyStrong {
		return "strong"
	}
	return "relaxed"
}

// Columns is a row's cells keyed by column name.
type Columns map[string][]byte

// Has reports whether the column is present.
func (c Columns) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// WithPrefix returns the cells whose names start with prefix, with the
// prefix stripped from the returned names.
func (c Columns) WithPrefix(prefix string) Columns {
	out := Columns{}
	for name, v := range c {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			out[rest] = v
		}
	}
	return out
}

// Names returns the sorted column names.
func (c Columns) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mutation is every change to one row in a batch. Backends apply DeleteRow,
// then DeletePrefixes, then Deletes, then Puts.
type Mutation struct {
	Table          Table
	Key            string
	Puts           Columns
	Deletes        []string
	DeletePrefixes []string
	DeleteRow      bool
}

// Batch groups mutations by row. It is not atomic across rows.
type Batch struct {
	mutations []*Mutation
	index     map[rowID]*Mutation
}

type rowID struct {
	table Table
	key   string
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{index: make(map[rowID]*Mutation)}
}

func (b *Batch) row(table Table, key string) *Mutation {
	if b.index == nil {
		b.index = make(map[rowID]*Mutation)
	}
	id := rowID{table, key}
	if m, ok := b.index[id]; ok {
		return m
	}
	m := &Mutation{Table: table, Key: key, Puts: Columns{}}
	b.index[id] = m
	b.mutations = append(b.mutations, m)
	return m
}

// Put upserts a single cell.
func (b *Batch) Put(table Table, key, column string, value []byte) *Batch {
	b.row(table, key).Puts[column] = value
	return b
}

// PutColumns upserts several cells in one row.
func (b *Batch) PutColumns(table Table, key string, cols Columns) *Batch {
	m := b.row(table, key)
	for name, v := range cols {
		m.Puts[name] = v
	}
	return b
}

// Delete removes cells from a row.
func (b *Batch) Delete(table Table, key string, columns ...string) *Batch {
	m := b.row(table, key)
	m.Deletes = append(m.Deletes, columns...)
	return b
}

// DeletePrefix removes every cell in the row whose name starts with prefix.
func (b *Batch) DeletePrefix(table Table, key, prefix string) *Batch {
	m := b.row(table, key)
	m.DeletePrefixes = append(m.DeletePrefixes, prefix)
	return b
}

// DeleteRow removes the whole row.
func (b *Batch) DeleteRow(table Table, key string) *Batch {
	b.row(table, key).DeleteRow = true
	return b
}

// Mutations returns the row mutations in insertion order.
func (b *Batch) Mutations() []*Mutation {
	return b.mutations
}

// Empty reports whether the batch has nothing to apply.
func (b *Batch) Empty() bool {
	return len(b.mutations) == 0
}

// Len returns the number of rows touched.
func (b *Batch) Len() int {
	return len(b.mutations)
}

// Storage is the column store the write path persists to.
type Storage interface {
	// Read returns the cells of each requested row that exists. Absent rows
	// are omitted from the result.
	Read(ctx context.Context, table Table, keys []string, consistency Consistency) (map[string]Columns, error)

	// Execute applies a batch of row mutations.
	Execute(ctx context.Context, batch *Batch, consistency Consistency) error
}
