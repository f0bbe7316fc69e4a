package deer

import (
	"context"
	"errors"
	"fmt"
)

// WriteBroadcast adds or replaces a single broadcast on an item and
// refreshes the upcoming broadcasts cached on its container and series.
// Items that are not listable have their upcoming refs removed instead.
// It skips the hash pipeline and always notifies for the item alone.
func (s *ContentStore) WriteBroadcast(ctx context.Context, item ItemRef, container *ContentRef, series *SeriesRef, b Broadcast) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.writeBroadcast(ctx, item, container, series, b); err != nil {
		var missing *MissingResourceError
		if errors.As(err, &missing) {
			return missing
		}
		return &WriteError{Op: "write_broadcast", ID: item.ID, Err: err}
	}

	s.notify(ctx, []ContentRef{item.ContentRef})
	return nil
}

func (s *ContentStore) writeBroadcast(ctx context.Context, item ItemRef, container *ContentRef, series *SeriesRef, b Broadcast) error {
	content, err := s.resolve(ctx, item.ID)
	if errors.Is(err, ErrContentNotFound) {
		return &MissingResourceError{ID: item.ID, Type: item.Type}
	}
	if err != nil {
		return err
	}

	data, err := encodeJSON(b)
	if err != nil {
		return err
	}
	key := item.ID.String()
	batch := NewBatch().Put(TableContent, key, PrefixBroadcast+BroadcastKey(b), data)

	var parents []Id
	if container != nil {
		parents = append(parents, container.ID)
	}
	if series != nil && (container == nil || series.ID != container.ID) {
		parents = append(parents, series.ID)
	}
	var upcoming []BroadcastRef
	if listable(content) {
		upcoming = UpcomingBroadcasts(withBroadcast(broadcastsOf(content), b), s.clock())
	}
	for _, parent := range parents {
		if len(upcoming) == 0 {
			batch.Delete(TableContent, parent.String(), PrefixUpcoming+key)
			continue
		}
		refs, err := encodeJSON(upcoming)
		if err != nil {
			return err
		}
		batch.Put(TableContent, parent.String(), PrefixUpcoming+key, refs)
	}

	if err := s.storage.Execute(ctx, batch, ConsistencyStrong); err != nil {
		return fmt.Errorf("failed to write broadcast %s: %w", BroadcastKey(b), err)
	}
	return nil
}

// withBroadcast returns broadcasts with b added, replacing any broadcast
// stored under the same key.
func withBroadcast(broadcasts []Broadcast, b Broadcast) []Broadcast {
	key := BroadcastKey(b)
	out := make([]Broadcast, 0, len(broadcasts)+1)
	for _, existing := range broadcasts {
		if BroadcastKey(existing) != key {
			out = append(out, existing)
		}
	}
	return append(out, b)
}
