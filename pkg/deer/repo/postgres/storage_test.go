package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/repo/postgres"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/storagetest"
)

// newTestPool connects to TEST_DATABASE_URL inside a fresh schema that is
// dropped when the test ends.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	schema := "deer_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(ctx, pool))

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA %s CASCADE", schema))
		_ = admin.Close(context.Background())
	})
	return pool
}

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) deer.Storage {
		return postgres.NewWithPool(newTestPool(t))
	})
}

func TestSequenceIDGenerator(t *testing.T) {
	storagetest.IDGenerator(t, postgres.NewSequenceIDGenerator(newTestPool(t)))
}

func TestMigrate_Idempotent(t *testing.T) {
	pool := newTestPool(t)
	require.NoError(t, postgres.Migrate(context.Background(), pool))
}
