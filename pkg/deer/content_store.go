package deer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// ContentStore writes individual pieces of content. For every write it
// finds the stored version, skips the write when the content hash is
// unchanged, keeps the denormalized refs between containers and children
// in step, and notifies downstream consumers keyed by equivalence graph.
//
// ContentStore is safe for concurrent use. It takes no locks; two
// concurrent writes of the same content both compare against whatever
// they read, and a later write repairs any drift.
type ContentStore struct {
	storage    Storage
	marshaller Marshaller
	hasher     Hasher
	sender     MessageSender
	graphs     EquivalenceGraphStore
	ids        IDGenerator
	clock      Clock
	timeout    time.Duration
	logger     *slog.Logger
	fanout     int
}

// NewContentStore creates a content store. Storage, a marshaller and an id
// generator are required.
func NewContentStore(opts ...Option) (*ContentStore, error) {
	o := applyOptions(opts)
	if o.storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if o.marshaller == nil {
		return nil, fmt.Errorf("marshaller is required")
	}
	if o.ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &ContentStore{
		storage:    o.storage,
		marshaller: o.marshaller,
		hasher:     o.hasher,
		sender:     o.sender,
		graphs:     o.graphs,
		ids:        o.ids,
		clock:      o.clock,
		timeout:    o.timeout,
		logger:     o.logger,
		fanout:     o.fanout,
	}, nil
}

// WriteContent persists content if it changed since the stored version.
//
// The id and timestamps of content are filled in place. A missing
// container or series is reported as a *MissingResourceError; every other
// failure is a *WriteError.
func (s *ContentStore) WriteContent(ctx context.Context, content Content) (WriteResult[Content], error) {
	if content == nil {
		return WriteResult[Content]{}, &WriteError{Op: "write_content", Err: ErrNilContent}
	}
	if content.Base().Source == "" {
		return WriteResult[Content]{}, &WriteError{Op: "write_content", ID: content.Base().ID, Err: ErrMissingSource}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := &contentWriter{store: s, ctx: ctx}
	if err := content.Accept(w); err != nil {
		var missing *MissingResourceError
		if errors.As(err, &missing) {
			return WriteResult[Content]{}, missing
		}
		return WriteResult[Content]{}, &WriteError{Op: "write_content", ID: content.Base().ID, Err: err}
	}

	if w.result.Written {
		s.notify(ctx, w.updated)
	}
	return w.result, nil
}

// ResolveIDs reads content by id. Missing and corrupt rows are left out.
func (s *ContentStore) ResolveIDs(ctx context.Context, ids []Id) (map[Id]Content, error) {
	return s.read(ctx, ids, ConsistencyStrong)
}

func (s *ContentStore) read(ctx context.Context, ids []Id, consistency Consistency) (map[Id]Content, error) {
	if len(ids) == 0 {
		return map[Id]Content{}, nil
	}
	rows, err := s.storage.Read(ctx, TableContent, idKeys(ids), consistency)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	out := make(map[Id]Content, len(rows))
	for key, cols := range rows {
		content, err := s.marshaller.Unmarshal(key, cols)
		if err != nil {
			if IsCorrupt(err) {
				s.logger.WarnContext(ctx, "skipping corrupt content row", "key", key, "err", err)
				continue
			}
			return nil, err
		}
		out[content.Base().ID] = content
	}
	return out, nil
}

// resolve returns ErrContentNotFound or a *CorruptContentError when the row
// is absent or unreadable.
func (s *ContentStore) resolve(ctx context.Context, id Id) (Content, error) {
	key := id.String()
	rows, err := s.storage.Read(ctx, TableContent, []string{key}, ConsistencyStrong)
	if err != nil {
		return nil, fmt.Errorf("failed to read content %s: %w", id, err)
	}
	cols, ok := rows[key]
	if !ok {
		return nil, ErrContentNotFound
	}
	return s.marshaller.Unmarshal(key, cols)
}

// resolvePrevious finds the stored version by id, or by alias when the
// content has no id. Corrupt rows are treated as absent.
func (s *ContentStore) resolvePrevious(ctx context.Context, content Content) (Content, error) {
	base := content.Base()
	id := base.ID
	if id == 0 {
		var err error
		if id, err = s.resolveAlias(ctx, base.Source, base.Aliases); err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, nil
		}
	}

	previous, err := s.resolve(ctx, id)
	switch {
	case err == nil:
		return previous, nil
	case errors.Is(err, ErrContentNotFound):
		return nil, nil
	case IsCorrupt(err):
		s.logger.WarnContext(ctx, "previous version is corrupt, treating as new", "id", id, "err", err)
		return nil, nil
	}
	return nil, err
}

func (s *ContentStore) resolveAlias(ctx context.Context, source Publisher, aliases []Alias) (Id, error) {
	if len(aliases) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		keys = append(keys, AliasKey(source, alias))
	}
	rows, err := s.storage.Read(ctx, TableContentAliases, keys, ConsistencyStrong)
	if err != nil {
		return 0, fmt.Errorf("failed to read aliases: %w", err)
	}

	var ids []Id
	for _, cols := range rows {
		for name := range cols {
			id, err := ParseId(name)
			if err != nil {
				s.logger.WarnContext(ctx, "bad alias index column", "column", name, "err", err)
				continue
			}
			ids = append(ids, id)
		}
	}
	ids = sortedIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > 1 {
		s.logger.WarnContext(ctx, "aliases resolve to several ids, using lowest", "source", source, "ids", ids)
	}
	return ids[0], nil
}

// changed reports whether content differs from previous by hash.
func (s *ContentStore) changed(content, previous Content) (bool, error) {
	if previous == nil {
		return true, nil
	}
	next, err := s.hasher.Hash(content)
	if err != nil {
		return false, err
	}
	prev, err := s.hasher.Hash(previous)
	if err != nil {
		return false, err
	}
	return next != prev, nil
}

// prepare assigns identity and write timestamps.
func (s *ContentStore) prepare(ctx context.Context, content, previous Content) (time.Time, error) {
	now := s.clock()
	base := content.Base()
	if previous == nil {
		if base.ID == 0 {
			id, err := s.ids.NextID(ctx)
			if err != nil {
				return time.Time{}, fmt.Errorf("failed to generate id: %w", err)
			}
			base.ID = id
		}
		base.FirstSeen = now
	} else {
		prev := previous.Base()
		base.ID = prev.ID
		base.FirstSeen = prev.FirstSeen
		if base.FirstSeen.IsZero() {
			base.FirstSeen = now
		}
	}
	base.LastUpdated = now
	base.ThisOrChildLastUpdated = now
	return now, nil
}

// persist writes the content row and its alias index entries.
func (s *ContentStore) persist(ctx context.Context, content, previous Content) error {
	cols, err := s.marshaller.Marshal(content)
	if err != nil {
		return err
	}
	base := content.Base()
	key := base.ID.String()

	batch := NewBatch()
	if previous != nil {
		for _, name := range staleBroadcastColumns(previous, cols) {
			batch.Delete(TableContent, key, name)
		}
		for _, alias := range previous.Base().Aliases {
			if !slices.Contains(base.Aliases, alias) {
				batch.Delete(TableContentAliases, AliasKey(previous.Base().Source, alias), key)
			}
		}
	}
	batch.PutColumns(TableContent, key, cols)
	for _, alias := range base.Aliases {
		batch.Put(TableContentAliases, AliasKey(base.Source, alias), key, encodeID(base.ID))
	}

	if err := s.storage.Execute(ctx, batch, ConsistencyStrong); err != nil {
		return fmt.Errorf("failed to write content %s: %w", base.ID, err)
	}
	return nil
}

func staleBroadcastColumns(previous Content, next Columns) []string {
	var stale []string
	for _, b := range broadcastsOf(previous) {
		name := PrefixBroadcast + BroadcastKey(b)
		if !next.Has(name) {
			stale = append(stale, name)
		}
	}
	return stale
}

func broadcastsOf(c Content) []Broadcast {
	switch v := c.(type) {
	case *Episode:
		return v.Broadcasts
	case *Item:
		return v.Broadcasts
	case *Film:
		return v.Broadcasts
	case *Song:
		return v.Broadcasts
	case *Clip:
		return v.Broadcasts
	}
	return nil
}

func (s *ContentStore) execute(ctx context.Context, batch *Batch) error {
	if batch.Empty() {
		return nil
	}
	return s.storage.Execute(ctx, batch, ConsistencyStrong)
}

// notify sends one ResourceUpdatedMessage per distinct ref. Send failures
// are logged; the write has already been committed.
func (s *ContentStore) notify(ctx context.Context, refs []ContentRef) {
	now := s.clock()
	seen := make(map[Id]bool, len(refs))

	var g errgroup.Group
	g.SetLimit(s.fanout)
	for _, ref := range refs {
		if ref.ID == 0 || seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		g.Go(func() error {
			msg := &ResourceUpdatedMessage{MessageHeader: newHeader(now), Updated: ref}
			key := s.partitionKey(ctx, ref.ID)
			if err := s.sender.SendMessage(ctx, msg, key); err != nil {
				s.logger.ErrorContext(ctx, "failed to send update message",
					"id", ref.ID, "type", ref.Type, "message_id", msg.ID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// partitionKey keys a notification on the resource's equivalence graph so
// that one consumer sees the whole set, falling back to the resource id.
func (s *ContentStore) partitionKey(ctx context.Context, id Id) []byte {
	if s.graphs == nil {
		return PartitionKey(id)
	}
	graphs, err := s.graphs.ResolveIDs(ctx, []Id{id})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve equivalence graph, partitioning on id", "id", id, "err", err)
		return PartitionKey(id)
	}
	if graph, ok := graphs[id]; ok {
		return PartitionKey(graph.ID)
	}
	return PartitionKey(id)
}
