package deer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// GraphStore persists equivalence graphs and the index from each member to
// the graph that holds it.
type GraphStore struct {
	storage Storage
	clock   Clock
	timeout time.Duration
	logger  *slog.Logger
}

var _ EquivalenceGraphStore = (*GraphStore)(nil)

// NewGraphStore creates a graph store. Storage is required.
func NewGraphStore(opts ...Option) (*GraphStore, error) {
	o := applyOptions(opts)
	if o.storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	return &GraphStore{
		storage: o.storage,
		clock:   o.clock,
		timeout: o.timeout,
		logger:  o.logger,
	}, nil
}

// ResolveIDs returns the graph each id belongs to. Ids in no graph, or whose
// graph row is gone, are omitted.
func (g *GraphStore) ResolveIDs(ctx context.Context, ids []Id) (map[Id]EquivalenceGraph, error) {
	out := make(map[Id]EquivalenceGraph, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.storage.Read(ctx, TableEquivalenceGraphIndex, idKeys(ids), ConsistencyStrong)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph index: %w", err)
	}
	graphOf := make(map[Id]Id, len(rows))
	var graphIDs []Id
	for key, cols := range rows {
		member, err := ParseId(key)
		if err != nil {
			g.logger.WarnContext(ctx, "bad graph index key", "key", key, "err", err)
			continue
		}
		graphID, err := decodeID(cols[ColumnGraphID])
		if err != nil {
			g.logger.WarnContext(ctx, "bad graph index entry", "id", member, "err", err)
			continue
		}
		graphOf[member] = graphID
		graphIDs = append(graphIDs, graphID)
	}

	graphs, err := g.read(ctx, graphIDs)
	if err != nil {
		return nil, err
	}
	for member, graphID := range graphOf {
		if graph, ok := graphs[graphID]; ok {
			out[member] = graph
		}
	}
	return out, nil
}

// Graphs reads graphs by graph id.
func (g *GraphStore) Graphs(ctx context.Context, ids []Id) (map[Id]EquivalenceGraph, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.read(ctx, ids)
}

func (g *GraphStore) read(ctx context.Context, ids []Id) (map[Id]EquivalenceGraph, error) {
	out := make(map[Id]EquivalenceGraph, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := g.storage.Read(ctx, TableEquivalenceGraph, idKeys(ids), ConsistencyStrong)
	if err != nil {
		return nil, fmt.Errorf("failed to read graphs: %w", err)
	}
	for key, cols := range rows {
		var graph EquivalenceGraph
		if err := json.Unmarshal(cols[ColumnGraph], &graph); err != nil {
			g.logger.WarnContext(ctx, "skipping unreadable graph", "key", key, "err", err)
			continue
		}
		out[graph.ID] = graph
	}
	return out, nil
}

// Apply records a graph update: the updated and created graphs are stored
// with their members indexed, deleted graphs are removed, and members of
// deleted graphs that no surviving graph covers lose their index entry.
func (g *GraphStore) Apply(ctx context.Context, update EquivalenceGraphUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	deleted, err := g.read(ctx, update.Deleted)
	if err != nil {
		return &WriteError{Op: "apply_graph_update", ID: update.Updated.ID, Err: err}
	}

	now := g.clock()
	covered := make(map[Id]bool)
	batch := NewBatch()
	for _, graph := range update.Graphs() {
		graph = NewEquivalenceGraph(graph.ID, graph.Members...)
		graph.Updated = now
		data, err := encodeJSON(graph)
		if err != nil {
			return &WriteError{Op: "apply_graph_update", ID: graph.ID, Err: err}
		}
		batch.Put(TableEquivalenceGraph, graph.ID.String(), ColumnGraph, data)
		for _, member := range graph.Members {
			covered[member] = true
			batch.Put(TableEquivalenceGraphIndex, member.String(), ColumnGraphID, encodeID(graph.ID))
		}
	}
	for _, id := range update.Deleted {
		batch.DeleteRow(TableEquivalenceGraph, id.String())
		for _, member := range deleted[id].Members {
			if !covered[member] {
				batch.DeleteRow(TableEquivalenceGraphIndex, member.String())
			}
		}
	}

	if err := g.storage.Execute(ctx, batch, ConsistencyStrong); err != nil {
		return &WriteError{Op: "apply_graph_update", ID: update.Updated.ID, Err: err}
	}
	return nil
}

func idKeys(ids []Id) []string {
	ids = sortedIDs(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	return keys
}
