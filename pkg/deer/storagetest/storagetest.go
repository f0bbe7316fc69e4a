// Package storagetest checks that a deer.Storage backend applies batches
// the way the stores expect.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
)

// Run runs the conformance suite. newStorage is called once per subtest
// and must return an empty store.
func Run(t *testing.T, newStorage func(t *testing.T) deer.Storage) {
	t.Run("read missing rows", func(t *testing.T) {
		s := newStorage(t)
		rows, err := s.Read(context.Background(), deer.TableContent, []string{"1", "2"}, deer.ConsistencyStrong)
		require.NoError(t, err)
		assert.Empty(t, rows)

		rows, err = s.Read(context.Background(), deer.TableContent, nil, deer.ConsistencyRelaxed)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("put and read", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		batch := deer.NewBatch().
			PutColumns(deer.TableContent, "1", deer.Columns{"type": []byte("film"), "body": []byte(`{"a":1}`)}).
			Put(deer.TableContent, "2", "type", []byte("brand")).
			Put(deer.TableContentAliases, "1", "type", []byte("other table"))
		require.NoError(t, s.Execute(ctx, batch, deer.ConsistencyStrong))

		for _, consistency := range []deer.Consistency{deer.ConsistencyStrong, deer.ConsistencyRelaxed} {
			rows, err := s.Read(ctx, deer.TableContent, []string{"1", "2", "3"}, consistency)
			require.NoError(t, err)
			assert.Equal(t, map[string]deer.Columns{
				"1": {"type": []byte("film"), "body": []byte(`{"a":1}`)},
				"2": {"type": []byte("brand")},
			}, rows, "consistency %s", consistency)
		}
	})

	t.Run("upsert overwrites cells", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		require.NoError(t, s.Execute(ctx, deer.NewBatch().Put(deer.TableContent, "1", "title", []byte("old")), deer.ConsistencyStrong))
		require.NoError(t, s.Execute(ctx, deer.NewBatch().Put(deer.TableContent, "1", "title", []byte("new")), deer.ConsistencyStrong))

		rows := read(t, s, "1")
		assert.Equal(t, []byte("new"), rows["1"]["title"])
	})

	t.Run("delete cells", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		seed(t, s, "1", "a", "b", "c")

		require.NoError(t, s.Execute(ctx, deer.NewBatch().Delete(deer.TableContent, "1", "a", "c", "missing"), deer.ConsistencyStrong))
		assert.Equal(t, []string{"b"}, read(t, s, "1")["1"].Names())
	})

	t.Run("delete prefix", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		seed(t, s, "1", "item_ref:1", "item_ref:2", "item_summary:1", "type")
		seed(t, s, "10", "item_ref:1")

		require.NoError(t, s.Execute(ctx, deer.NewBatch().DeletePrefix(deer.TableContent, "1", "item_ref:"), deer.ConsistencyStrong))
		rows := read(t, s, "1", "10")
		assert.Equal(t, []string{"item_summary:1", "type"}, rows["1"].Names())
		assert.Equal(t, []string{"item_ref:1"}, rows["10"].Names(), "other rows are untouched")
	})

	t.Run("delete row", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		seed(t, s, "1", "a", "b")
		seed(t, s, "2", "a")

		require.NoError(t, s.Execute(ctx, deer.NewBatch().DeleteRow(deer.TableContent, "1"), deer.ConsistencyStrong))
		rows := read(t, s, "1", "2")
		assert.NotContains(t, rows, "1")
		assert.Contains(t, rows, "2")
	})

	t.Run("mutation order within a row", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		seed(t, s, "1", "old", "2:a", "2:b", "keep")

		batch := deer.NewBatch().
			Put(deer.TableContent, "1", "2:a", []byte("fresh")).
			DeletePrefix(deer.TableContent, "1", "2:").
			Delete(deer.TableContent, "1", "old")
		require.NoError(t, s.Execute(ctx, batch, deer.ConsistencyStrong))

		rows := read(t, s, "1")
		assert.Equal(t, deer.Columns{"2:a": []byte("fresh"), "keep": []byte("keep")}, rows["1"])

		replace := deer.NewBatch().
			Put(deer.TableContent, "1", "new", []byte("new")).
			DeleteRow(deer.TableContent, "1")
		require.NoError(t, s.Execute(ctx, replace, deer.ConsistencyStrong))
		assert.Equal(t, deer.Columns{"new": []byte("new")}, read(t, s, "1")["1"])
	})

	t.Run("deletes never create rows", func(t *testing.T) {
		s := newStorage(t)
		batch := deer.NewBatch().
			Delete(deer.TableContent, "1", "a").
			DeletePrefix(deer.TableContent, "2", "a").
			DeleteRow(deer.TableContent, "3")
		require.NoError(t, s.Execute(context.Background(), batch, deer.ConsistencyStrong))
		assert.Empty(t, read(t, s, "1", "2", "3"))
	})

	t.Run("emptied rows disappear", func(t *testing.T) {
		s := newStorage(t)
		seed(t, s, "1", "a")
		require.NoError(t, s.Execute(context.Background(), deer.NewBatch().Delete(deer.TableContent, "1", "a"), deer.ConsistencyStrong))
		assert.Empty(t, read(t, s, "1"))
	})

	t.Run("reads return copies", func(t *testing.T) {
		s := newStorage(t)
		seed(t, s, "1", "a")
		rows := read(t, s, "1")
		rows["1"]["a"][0] = 'z'
		rows["1"]["b"] = []byte("b")

		assert.Equal(t, deer.Columns{"a": []byte("a")}, read(t, s, "1")["1"])
	})

	t.Run("keys with separators", func(t *testing.T) {
		s := newStorage(t)
		key := deer.AliasKey("pa", deer.Alias{Namespace: "ns:with:colons", Value: `a "quoted" value`})
		require.NoError(t, s.Execute(context.Background(), deer.NewBatch().Put(deer.TableContentAliases, key, "12", []byte("12")), deer.ConsistencyStrong))

		rows, err := s.Read(context.Background(), deer.TableContentAliases, []string{key}, deer.ConsistencyStrong)
		require.NoError(t, err)
		assert.Equal(t, []byte("12"), rows[key]["12"])
	})

	t.Run("concurrent batches", func(t *testing.T) {
		s := newStorage(t)
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				col := fmt.Sprintf("c%02d", i)
				assert.NoError(t, s.Execute(context.Background(), deer.NewBatch().Put(deer.TableContent, "1", col, []byte(col)), deer.ConsistencyStrong))
			}()
		}
		wg.Wait()
		assert.Len(t, read(t, s, "1")["1"], 16)
	})

	t.Run("canceled context", func(t *testing.T) {
		s := newStorage(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, s.Execute(ctx, deer.NewBatch().Put(deer.TableContent, "1", "a", []byte("a")), deer.ConsistencyStrong))
		_, err := s.Read(ctx, deer.TableContent, []string{"1"}, deer.ConsistencyStrong)
		assert.Error(t, err)
	})
}

// seed writes cells whose values equal their names.
func seed(t *testing.T, s deer.Storage, key string, columns ...string) {
	t.Helper()
	batch := deer.NewBatch()
	for _, c := range columns {
		batch.Put(deer.TableContent, key, c, []byte(c))
	}
	require.NoError(t, s.Execute(context.Background(), batch, deer.ConsistencyStrong))
}

func read(t *testing.T, s deer.Storage, keys ...string) map[string]deer.Columns {
	t.Helper()
	rows, err := s.Read(context.Background(), deer.TableContent, keys, deer.ConsistencyStrong)
	require.NoError(t, err)
	return rows
}

// IDGenerator checks that a generator hands out distinct ascending ids.
func IDGenerator(t *testing.T, ids deer.IDGenerator) {
	ctx := context.Background()
	var last deer.Id
	for range 5 {
		id, err := ids.NextID(ctx)
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}

	var mu sync.Mutex
	seen := make(map[deer.Id]bool)
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := ids.NextID(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}()
	}
	wg.Wait()
}
