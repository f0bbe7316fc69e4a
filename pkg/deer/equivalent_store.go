package deer

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Annotation selects a denormalized projection to hydrate on resolved
// equivalent content.
type Annotation string

const (
	AnnotationUpcomingContent  Annotation = "upcoming_content"
	AnnotationAvailableContent Annotation = "available_content"
	AnnotationSubItemSummaries Annotation = "sub_item_summaries"
)

// annotationPrefixes maps each annotation to the column prefix it hydrates.
var annotationPrefixes = map[Annotation]string{
	AnnotationUpcomingContent:  PrefixUpcoming,
	AnnotationAvailableContent: PrefixAvailable,
	AnnotationSubItemSummaries: PrefixItemSummary,
}

// EquivalentSet is the materialized content of one equivalence graph.
type EquivalentSet struct {
	ID      Id
	Content []Content
}

// IDs returns the ids of the set's content in ascending order.
func (s EquivalentSet) IDs() []Id {
	ids := make([]Id, 0, len(s.Content))
	for _, c := range s.Content {
		ids = append(ids, c.Base().ID)
	}
	return ids
}

// EquivalentContentStore materializes each equivalence graph as one row
// holding every member's content, plus an index from member to row.
type EquivalentContentStore struct {
	storage    Storage
	marshaller Marshaller
	resolver   ContentResolver
	graphs     EquivalenceGraphStore
	sender     MessageSender
	lock       *GroupLock[Id]
	clock      Clock
	timeout    time.Duration
	logger     *slog.Logger
}

// NewEquivalentContentStore creates an equivalent content store. Storage, a
// marshaller and a content resolver are required. Without a graph store
// every id is treated as its own singleton set by UpdateContent.
func NewEquivalentContentStore(opts ...Option) (*EquivalentContentStore, error) {
	o := applyOptions(opts)
	if o.storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if o.marshaller == nil {
		return nil, fmt.Errorf("marshaller is required")
	}
	if o.resolver == nil {
		return nil, fmt.Errorf("content resolver is required")
	}
	lock := o.lock
	if lock == nil {
		lock = NewGroupLock[Id]()
	}
	return &EquivalentContentStore{
		storage:    o.storage,
		marshaller: o.marshaller,
		resolver:   o.resolver,
		graphs:     o.graphs,
		sender:     o.sender,
		lock:       lock,
		clock:      o.clock,
		timeout:    o.timeout,
		logger:     o.logger,
	}, nil
}

// UpdateEquivalences rewrites the equivalent content rows affected by a
// graph update and announces it. Content left behind by a deleted graph and
// not covered by any surviving graph is reprocessed through UpdateContent
// once the lock is released.
func (s *EquivalentContentStore) UpdateEquivalences(ctx context.Context, update EquivalenceGraphUpdate) error {
	stale, err := s.updateEquivalences(ctx, update)
	if err != nil {
		return &WriteError{Op: "update_equivalences", ID: update.Updated.ID, Err: err}
	}

	for _, id := range stale {
		if err := s.UpdateContent(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "failed to update stale content",
				"id", id, "graph_id", update.Updated.ID, "err", err)
		}
	}
	return nil
}

func (s *EquivalentContentStore) updateEquivalences(ctx context.Context, update EquivalenceGraphUpdate) ([]Id, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids := update.AllIDs()
	if err := s.lock.Lock(ctx, ids...); err != nil {
		return nil, err
	}
	defer s.lock.Unlock(ids...)

	content, err := s.resolver.ResolveIDs(ctx, update.ContentIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve content: %w", err)
	}
	members := make(map[Id][]Content)
	for _, graph := range update.Graphs() {
		for _, id := range graph.Members {
			if c, ok := content[id]; ok {
				members[graph.ID] = append(members[graph.ID], c)
			}
		}
	}

	stale, err := s.staleContent(ctx, update.Deleted, content)
	if err != nil {
		return nil, err
	}

	batch := NewBatch()
	for _, graph := range update.Graphs() {
		for _, c := range members[graph.ID] {
			if err := s.putMember(batch, graph.ID, c); err != nil {
				return nil, err
			}
		}
	}
	for _, id := range update.Deleted {
		batch.DeleteRow(TableEquivalentContent, id.String())
	}
	for _, graph := range update.Created {
		for _, id := range graph.Members {
			batch.DeletePrefix(TableEquivalentContent, update.Updated.ID.String(), EquivalentContentPrefix(id))
		}
	}
	if err := s.storage.Execute(ctx, batch, ConsistencyStrong); err != nil {
		return nil, fmt.Errorf("failed to write equivalent content: %w", err)
	}

	msg := &EquivalenceGraphUpdateMessage{MessageHeader: newHeader(s.clock()), Update: update}
	if err := s.sender.SendMessage(ctx, msg, PartitionKey(update.PartitionID())); err != nil {
		return nil, fmt.Errorf("failed to send graph update: %w", err)
	}
	return stale, nil
}

// staleContent returns the former members of the deleted sets that the
// resolved content of the update no longer covers.
func (s *EquivalentContentStore) staleContent(ctx context.Context, deleted []Id, covered map[Id]Content) ([]Id, error) {
	if len(deleted) == 0 {
		return nil, nil
	}
	rows, err := s.storage.Read(ctx, TableEquivalentContent, idKeys(deleted), ConsistencyStrong)
	if err != nil {
		return nil, fmt.Errorf("failed to read deleted sets: %w", err)
	}
	var stale []Id
	for _, cols := range rows {
		for id := range memberColumns(cols) {
			if _, ok := covered[id]; !ok {
				stale = append(stale, id)
			}
		}
	}
	return sortedIDs(stale), nil
}

// UpdateContent rewrites one member of its equivalent set, using a
// singleton set when the content is in no graph.
func (s *EquivalentContentStore) UpdateContent(ctx context.Context, id Id) error {
	if err := s.updateContent(ctx, id); err != nil {
		return &WriteError{Op: "update_content", ID: id, Err: err}
	}
	return nil
}

func (s *EquivalentContentStore) updateContent(ctx context.Context, id Id) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.lock.Lock(ctx, id); err != nil {
		return err
	}
	defer s.lock.Unlock(id)

	resolved, err := s.resolver.ResolveIDs(ctx, []Id{id})
	if err != nil {
		return fmt.Errorf("failed to resolve content: %w", err)
	}
	content, ok := resolved[id]
	if !ok {
		return ErrContentNotFound
	}

	graph := SingletonGraph(id)
	if s.graphs != nil {
		graphs, err := s.graphs.ResolveIDs(ctx, []Id{id})
		if err != nil {
			return fmt.Errorf("failed to resolve equivalence graph: %w", err)
		}
		if g, ok := graphs[id]; ok {
			graph = g
		}
	}

	index, err := s.storage.Read(ctx, TableEquivalentContentIndex, []string{id.String()}, ConsistencyStrong)
	if err != nil {
		return fmt.Errorf("failed to read equivalent content index: %w", err)
	}

	batch := NewBatch()
	if cols, ok := index[id.String()]; ok {
		if previous, err := decodeID(cols[ColumnEquivalentSet]); err == nil && previous != graph.ID {
			batch.DeletePrefix(TableEquivalentContent, previous.String(), EquivalentContentPrefix(id))
		}
	}
	if err := s.putMember(batch, graph.ID, content); err != nil {
		return err
	}
	if err := s.storage.Execute(ctx, batch, ConsistencyStrong); err != nil {
		return fmt.Errorf("failed to write equivalent content: %w", err)
	}

	msg := &EquivalentContentUpdatedMessage{
		MessageHeader:   newHeader(s.clock()),
		EquivalentSetID: graph.ID,
		Content:         RefOf(content),
	}
	if err := s.sender.SendMessage(ctx, msg, PartitionKey(graph.ID)); err != nil {
		return fmt.Errorf("failed to send content update: %w", err)
	}
	return nil
}

// putMember replaces a member's cells in a set row and points the index at
// the set.
func (s *EquivalentContentStore) putMember(batch *Batch, set Id, content Content) error {
	cols, err := s.marshaller.Marshal(content)
	if err != nil {
		return err
	}
	projections, err := projectionColumns(content)
	if err != nil {
		return err
	}
	id := content.Base().ID
	prefix := EquivalentContentPrefix(id)
	row := set.String()

	batch.DeletePrefix(TableEquivalentContent, row, prefix)
	for name, v := range cols {
		batch.Put(TableEquivalentContent, row, prefix+name, v)
	}
	for name, v := range projections {
		batch.Put(TableEquivalentContent, row, prefix+name, v)
	}
	batch.Put(TableEquivalentContentIndex, id.String(), ColumnEquivalentSet, encodeID(set))
	return nil
}

// ResolveIDs returns the equivalent set of each requested id, keyed by the
// requested id. Only content from the selected sources is included; a nil
// sources slice selects every source. Annotations choose which cached
// projections are hydrated; nil hydrates all of them.
//
// Reads are relaxed first and retried once at strong consistency when
// nothing is found. ErrContentNotFound is returned when the strong read is
// empty too. Ids missing from a non-empty result are left out of the map.
func (s *EquivalentContentStore) ResolveIDs(ctx context.Context, ids []Id, sources []Publisher, annotations []Annotation) (map[Id]EquivalentSet, error) {
	out := make(map[Id]EquivalentSet, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	index, err := s.readWithRetry(ctx, TableEquivalentContentIndex, idKeys(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to read equivalent content index: %w", err)
	}
	setOf := make(map[Id]Id, len(index))
	var setIDs []Id
	for key, cols := range index {
		id, err := ParseId(key)
		if err != nil {
			continue
		}
		set, err := decodeID(cols[ColumnEquivalentSet])
		if err != nil {
			s.logger.WarnContext(ctx, "bad equivalent content index entry", "id", id, "err", err)
			continue
		}
		setOf[id] = set
		setIDs = append(setIDs, set)
	}
	if len(setIDs) == 0 {
		return out, nil
	}

	rows, err := s.readWithRetry(ctx, TableEquivalentContent, idKeys(setIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to read equivalent content: %w", err)
	}
	skip := skippedPrefixes(annotations)
	sets := make(map[Id]EquivalentSet, len(rows))
	for key, cols := range rows {
		set, err := ParseId(key)
		if err != nil {
			continue
		}
		sets[set] = s.decodeSet(ctx, set, cols, sources, skip)
	}

	for id, set := range setOf {
		if resolved, ok := sets[set]; ok {
			out[id] = resolved
		}
	}
	return out, nil
}

func (s *EquivalentContentStore) readWithRetry(ctx context.Context, table Table, keys []string) (map[string]Columns, error) {
	rows, err := s.storage.Read(ctx, table, keys, ConsistencyRelaxed)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows, nil
	}
	rows, err = s.storage.Read(ctx, table, keys, ConsistencyStrong)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s rows %v", ErrContentNotFound, table, keys)
	}
	return rows, nil
}

func (s *EquivalentContentStore) decodeSet(ctx context.Context, set Id, cols Columns, sources []Publisher, skip []string) EquivalentSet {
	resolved := EquivalentSet{ID: set}
	for id, member := range memberColumns(cols) {
		if sources != nil && !slices.Contains(sources, Publisher(member[ColumnSource])) {
			continue
		}
		for name := range member {
			for _, prefix := range skip {
				if strings.HasPrefix(name, prefix) {
					delete(member, name)
				}
			}
		}
		content, err := s.marshaller.Unmarshal(id.String(), member)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable equivalent content",
				"set_id", set, "id", id, "err", err)
			continue
		}
		resolved.Content = append(resolved.Content, content)
	}
	slices.SortFunc(resolved.Content, func(a, b Content) int {
		return cmp.Compare(a.Base().ID, b.Base().ID)
	})
	return resolved
}

func skippedPrefixes(annotations []Annotation) []string {
	if annotations == nil {
		return nil
	}
	var skip []string
	for annotation, prefix := range annotationPrefixes {
		if !slices.Contains(annotations, annotation) {
			skip = append(skip, prefix)
		}
	}
	return skip
}

// memberColumns splits a set row into each member's cells.
func memberColumns(cols Columns) map[Id]Columns {
	out := make(map[Id]Columns)
	for name, v := range cols {
		head, rest, ok := strings.Cut(name, ":")
		if !ok {
			continue
		}
		id, err := ParseId(head)
		if err != nil {
			continue
		}
		if out[id] == nil {
			out[id] = Columns{}
		}
		out[id][rest] = v
	}
	return out
}

// projectionColumns encodes the cached projections held by a container,
// which the marshaller leaves to the content that pushes them.
func projectionColumns(c Content) (Columns, error) {
	var container *ContainerBase
	var seriesRefs []SeriesRef
	switch v := c.(type) {
	case *Brand:
		container = &v.ContainerBase
		seriesRefs = v.SeriesRefs
	case *Series:
		container = &v.ContainerBase
	default:
		return nil, nil
	}

	cols := Columns{}
	put := func(name string, v any) error {
		data, err := encodeJSON(v)
		if err != nil {
			return err
		}
		cols[name] = data
		return nil
	}
	for _, ref := range container.ItemRefs {
		if err := put(PrefixItemRef+ref.ID.String(), ref); err != nil {
			return nil, err
		}
	}
	for id, summary := range container.ItemSummaries {
		if err := put(PrefixItemSummary+id.String(), summary); err != nil {
			return nil, err
		}
	}
	for id, locations := range container.AvailableContent {
		if err := put(PrefixAvailable+id.String(), locations); err != nil {
			return nil, err
		}
	}
	for id, broadcasts := range container.UpcomingContent {
		if err := put(PrefixUpcoming+id.String(), broadcasts); err != nil {
			return nil, err
		}
	}
	for _, ref := range seriesRefs {
		if err := put(PrefixSeriesRef+ref.ID.String(), ref); err != nil {
			return nil, err
		}
	}
	return cols, nil
}
