package deer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/repo/memory"
)

func TestNewGraphStore_RequiresStorage(t *testing.T) {
	store, err := deer.NewGraphStore()
	assert.Nil(t, store)
	assert.Error(t, err)
}

func TestGraphStore_ApplyAndResolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	update := deer.EquivalenceGraphUpdate{Updated: deer.NewEquivalenceGraph(1, 3, 1, 2, 2)}
	require.NoError(t, f.graphs.Apply(ctx, update))

	graphs, err := f.graphs.ResolveIDs(ctx, []deer.Id{1, 2, 3, 4})
	require.NoError(t, err)
	require.Len(t, graphs, 3)
	for _, id := range []deer.Id{1, 2, 3} {
		assert.Equal(t, deer.Id(1), graphs[id].ID)
		assert.Equal(t, []deer.Id{1, 2, 3}, graphs[id].Members)
		assert.Equal(t, f.now, graphs[id].Updated)
	}
	assert.NotContains(t, graphs, deer.Id(4))

	empty, err := f.graphs.ResolveIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGraphStore_Split(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.graphs.Apply(ctx, deer.EquivalenceGraphUpdate{Updated: deer.NewEquivalenceGraph(1, 1, 2, 3)}))

	split := deer.EquivalenceGraphUpdate{
		Updated: deer.NewEquivalenceGraph(1, 1, 2),
		Created: []deer.EquivalenceGraph{deer.NewEquivalenceGraph(3, 3)},
	}
	require.NoError(t, f.graphs.Apply(ctx, split))

	graphs, err := f.graphs.ResolveIDs(ctx, []deer.Id{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, deer.Id(1), graphs[2].ID)
	assert.Equal(t, []deer.Id{1, 2}, graphs[1].Members)
	assert.Equal(t, deer.Id(3), graphs[3].ID)
}

func TestGraphStore_DeletedGraphs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.graphs.Apply(ctx, deer.EquivalenceGraphUpdate{Updated: deer.NewEquivalenceGraph(1, 1, 2, 3)}))

	// graph 1 is replaced by graph 2, which keeps 1 and 2 but drops 3
	require.NoError(t, f.graphs.Apply(ctx, deer.EquivalenceGraphUpdate{
		Updated: deer.NewEquivalenceGraph(2, 1, 2),
		Deleted: []deer.Id{1},
	}))

	graphs, err := f.graphs.ResolveIDs(ctx, []deer.Id{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, deer.Id(2), graphs[1].ID)
	assert.Equal(t, deer.Id(2), graphs[2].ID)
	assert.NotContains(t, graphs, deer.Id(3))

	byID, err := f.graphs.Graphs(ctx, []deer.Id{1, 2})
	require.NoError(t, err)
	assert.NotContains(t, byID, deer.Id(1))
	assert.Contains(t, byID, deer.Id(2))

	assert.Equal(t, 2, f.storage.Len(deer.TableEquivalenceGraphIndex))
	assert.Equal(t, 1, f.storage.Len(deer.TableEquivalenceGraph))
}

func TestGraphStore_SkipsUnreadableGraphs(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	store, err := deer.NewGraphStore(deer.WithStorage(storage), deer.WithLogger(discardLogger()))
	require.NoError(t, err)

	batch := deer.NewBatch().
		Put(deer.TableEquivalenceGraph, "9", deer.ColumnGraph, []byte("{not json")).
		Put(deer.TableEquivalenceGraphIndex, "5", deer.ColumnGraphID, []byte("9")).
		Put(deer.TableEquivalenceGraphIndex, "6", deer.ColumnGraphID, []byte("x"))
	require.NoError(t, storage.Execute(ctx, batch, deer.ConsistencyStrong))

	graphs, err := store.ResolveIDs(ctx, []deer.Id{5, 6})
	require.NoError(t, err)
	assert.Empty(t, graphs)
}
