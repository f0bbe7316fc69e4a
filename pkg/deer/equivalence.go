package deer

import (
	"slices"
	"time"
)

// EquivalenceGraph is a set of ids believed to describe the same asset. Its
// ID is the partition key for everything downstream of the set.
type EquivalenceGraph struct {
	ID      Id        `json:"id"`
	Members []Id      `json:"members"`
	Updated time.Time `json:"updated,omitzero"`
}

// NewEquivalenceGraph builds a graph with sorted, de-duplicated members.
func NewEquivalenceGraph(id Id, members ...Id) EquivalenceGraph {
	return EquivalenceGraph{ID: id, Members: sortedIDs(members)}
}

// SingletonGraph is the graph of content that is equivalent to nothing else.
func SingletonGraph(id Id) EquivalenceGraph {
	return NewEquivalenceGraph(id, id)
}

// Contains reports whether id is a member of the graph.
func (g EquivalenceGraph) Contains(id Id) bool {
	return slices.Contains(g.Members, id)
}

// EquivalenceGraphUpdate describes one transition of the equivalence graph:
// the graph whose edges changed, the graphs split off from it and the ids
// of graphs that no longer exist.
type EquivalenceGraphUpdate struct {
	Updated EquivalenceGraph   `json:"updated"`
	Created []EquivalenceGraph `json:"created,omitempty"`
	Deleted []Id               `json:"deleted,omitempty"`

	// AssertionSubject is the content whose equivalence assertion triggered
	// the update, when known.
	AssertionSubject *Id `json:"assertion_subject,omitempty"`
}

// Graphs returns the updated graph followed by the created graphs.
func (u EquivalenceGraphUpdate) Graphs() []EquivalenceGraph {
	graphs := make([]EquivalenceGraph, 0, len(u.Created)+1)
	graphs = append(graphs, u.Updated)
	return append(graphs, u.Created...)
}

// ContentIDs returns every member of every surviving graph.
func (u EquivalenceGraphUpdate) ContentIDs() []Id {
	var ids []Id
	for _, g := range u.Graphs() {
		ids = append(ids, g.Members...)
	}
	return sortedIDs(ids)
}

// AllIDs is every id the update touches, including deleted graph ids.
func (u EquivalenceGraphUpdate) AllIDs() []Id {
	ids := u.ContentIDs()
	ids = append(ids, u.Updated.ID)
	for _, g := range u.Created {
		ids = append(ids, g.ID)
	}
	ids = append(ids, u.Deleted...)
	return sortedIDs(ids)
}

// PartitionID is the id the update notification is keyed on.
func (u EquivalenceGraphUpdate) PartitionID() Id {
	if u.AssertionSubject != nil {
		return *u.AssertionSubject
	}
	return u.Updated.ID
}

func sortedIDs(ids []Id) []Id {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
