// Package badger stores content rows in an embedded Badger database. Each
// cell is one key of the form table\x00row\x00column.
package badger

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
)

const sep = 0x00

// Storage implements deer.Storage on Badger. Badger is single node, so both
// consistency levels read the latest committed value.
type Storage struct {
	db *badger.DB
}

var _ deer.Storage = (*Storage)(nil)

// Open opens a database at dir. An empty dir opens an in-memory database.
func Open(dir string) (*Storage, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(db), nil
}

// New wraps an open database.
func New(db *badger.DB) *Storage {
	return &Storage{db: db}
}

// DB returns the underlying database.
func (s *Storage) DB() *badger.DB {
	return s.db
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

func rowPrefix(table deer.Table, key string) []byte {
	b := make([]byte, 0, len(table)+len(key)+2)
	b = append(b, table...)
	b = append(b, sep)
	b = append(b, key...)
	return append(b, sep)
}

func cellKey(table deer.Table, key, col string) []byte {
	return append(rowPrefix(table, key), col...)
}

func (s *Storage) Read(ctx context.Context, table deer.Table, keys []string, _ deer.Consistency) (map[string]deer.Columns, error) {
	out := make(map[string]deer.Columns, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			prefix := rowPrefix(table, key)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				value, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				row, ok := out[key]
				if !ok {
					row = deer.Columns{}
					out[key] = row
				}
				row[string(bytes.TrimPrefix(item.Key(), prefix))] = value
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return out, nil
}

// Execute applies the batch in a single transaction.
func (s *Storage) Execute(ctx context.Context, batch *deer.Batch, _ deer.Consistency) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, m := range batch.Mutations() {
			row := rowPrefix(m.Table, m.Key)
			if m.DeleteRow {
				if err := deletePrefix(txn, row); err != nil {
					return err
				}
			}
			for _, prefix := range m.DeletePrefixes {
				if err := deletePrefix(txn, append(bytes.Clone(row), prefix...)); err != nil {
					return err
				}
			}
			for _, col := range m.Deletes {
				if err := txn.Delete(cellKey(m.Table, m.Key, col)); err != nil {
					return err
				}
			}
			for col, value := range m.Puts {
				if err := txn.Set(cellKey(m.Table, m.Key, col), bytes.Clone(value)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// SequenceIDGenerator assigns content ids from a Badger sequence. Ids are
// leased in blocks, so a restart may skip the unused part of a block.
type SequenceIDGenerator struct {
	mu  sync.Mutex
	seq *badger.Sequence
}

var _ deer.IDGenerator = (*SequenceIDGenerator)(nil)

// NewSequenceIDGenerator creates an id generator leasing bandwidth ids at a time.
func NewSequenceIDGenerator(s *Storage, bandwidth uint64) (*SequenceIDGenerator, error) {
	seq, err := s.db.GetSequence([]byte("deer\x00content_ids"), bandwidth)
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return &SequenceIDGenerator{seq: seq}, nil
}

func (g *SequenceIDGenerator) NextID(ctx context.Context) (deer.Id, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	// sequences start at zero, which means unassigned
	return deer.Id(n + 1), nil
}

// Release returns the unused part of the leased block.
func (g *SequenceIDGenerator) Release() error {
	return g.seq.Release()
}
