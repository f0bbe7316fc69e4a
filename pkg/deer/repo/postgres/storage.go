package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// Storage implements deer.Storage on a single cells table. Strong reads and
// all writes go to the primary; relaxed reads go to the replica when one is
// configured.
type Storage struct {
	primary DBTX
	replica DBTX
}

var _ deer.Storage = (*Storage)(nil)

// New creates a new PostgreSQL storage
func New(db DBTX) *Storage {
	return &Storage{primary: db, replica: db}
}

// NewWithPool creates a new PostgreSQL storage with connection pool
func NewWithPool(pool *pgxpool.Pool) *Storage {
	return New(pool)
}

// NewWithReplica creates a storage that serves relaxed reads from replica
func NewWithReplica(primary, replica DBTX) *Storage {
	if replica == nil {
		replica = primary
	}
	return &Storage{primary: primary, replica: replica}
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		case "57014": // query_canceled
			return fmt.Errorf("%s canceled: %w", operation, err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (s *Storage) Read(ctx context.Context, table deer.Table, keys []string, consistency deer.Consistency) (map[string]deer.Columns, error) {
	out := make(map[string]deer.Columns, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	db := s.primary
	if consistency == deer.ConsistencyRelaxed {
		db = s.replica
	}

	query := `
		SELECT row_key, col, value
		FROM deer_cells
		WHERE tbl = $1 AND row_key = ANY($2)`

	rows, err := db.Query(ctx, query, string(table), keys)
	if err != nil {
		return nil, handlePostgresError("read "+string(table), err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, col string
		var value []byte
		if err := rows.Scan(&key, &col, &value); err != nil {
			return nil, handlePostgresError("scan "+string(table), err)
		}
		row, ok := out[key]
		if !ok {
			row = deer.Columns{}
			out[key] = row
		}
		row[col] = value
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("read "+string(table), err)
	}
	return out, nil
}

// Execute sends every mutation in one round trip. Statements for a row are
// queued deletes first, then puts.
func (s *Storage) Execute(ctx context.Context, batch *deer.Batch, _ deer.Consistency) error {
	if batch.Empty() {
		return nil
	}

	b := &pgx.Batch{}
	for _, m := range batch.Mutations() {
		tbl := string(m.Table)
		if m.DeleteRow {
			b.Queue(`DELETE FROM deer_cells WHERE tbl = $1 AND row_key = $2`, tbl, m.Key)
		}
		for _, prefix := range m.DeletePrefixes {
			b.Queue(`DELETE FROM deer_cells WHERE tbl = $1 AND row_key = $2 AND starts_with(col, $3)`,
				tbl, m.Key, prefix)
		}
		if len(m.Deletes) > 0 {
			b.Queue(`DELETE FROM deer_cells WHERE tbl = $1 AND row_key = $2 AND col = ANY($3)`,
				tbl, m.Key, m.Deletes)
		}
		if len(m.Puts) > 0 {
			cols := make([]string, 0, len(m.Puts))
			values := make([][]byte, 0, len(m.Puts))
			for _, name := range m.Puts.Names() {
				cols = append(cols, name)
				values = append(values, m.Puts[name])
			}
			b.Queue(`
				INSERT INTO deer_cells (tbl, row_key, col, value)
				SELECT $1, $2, c, v FROM unnest($3::text[], $4::bytea[]) AS t(c, v)
				ON CONFLICT (tbl, row_key, col) DO UPDATE SET value = EXCLUDED.value`,
				tbl, m.Key, cols, values)
		}
	}

	results := s.primary.SendBatch(ctx, b)
	for range b.Len() {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return handlePostgresError("execute batch", err)
		}
	}
	if err := results.Close(); err != nil {
		return handlePostgresError("execute batch", err)
	}
	return nil
}

// SequenceIDGenerator assigns content ids from a database sequence.
type SequenceIDGenerator struct {
	db DBTX
}

var _ deer.IDGenerator = (*SequenceIDGenerator)(nil)

// NewSequenceIDGenerator creates an id generator backed by deer_content_ids.
func NewSequenceIDGenerator(db DBTX) *SequenceIDGenerator {
	return &SequenceIDGenerator{db: db}
}

func (g *SequenceIDGenerator) NextID(ctx context.Context) (deer.Id, error) {
	var id int64
	if err := g.db.QueryRow(ctx, `SELECT nextval('deer_content_ids')`).Scan(&id); err != nil {
		return 0, handlePostgresError("next id", err)
	}
	return deer.Id(id), nil
}
