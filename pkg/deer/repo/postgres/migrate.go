package postgres

import "context"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS deer_cells (
		tbl     TEXT  NOT NULL,
		row_key TEXT  NOT NULL,
		col     TEXT  NOT NULL,
		value   BYTEA NOT NULL,
		PRIMARY KEY (tbl, row_key, col)
	)`,
	`CREATE SEQUENCE IF NOT EXISTS deer_content_ids`,
}

// Migrate creates the cells table and the id sequence if they do not exist.
func Migrate(ctx context.Context, db DBTX) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return handlePostgresError("migrate", err)
		}
	}
	return nil
}
