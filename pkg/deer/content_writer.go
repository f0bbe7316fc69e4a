package deer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// contentWriter is the per-call visitor behind WriteContent. It collects
// the result and the refs that need a notification once the write commits.
type contentWriter struct {
	store   *ContentStore
	ctx     context.Context
	result  WriteResult[Content]
	updated []ContentRef
}

var _ ContentVisitor = (*contentWriter)(nil)

func (w *contentWriter) VisitBrand(b *Brand) error {
	previous, written, err := w.begin(b)
	if err != nil || !written {
		return err
	}
	preserveContainer(&b.ContainerBase, previous)
	b.SeriesRefs = nil
	if prev, ok := previous.(*Brand); ok {
		b.SeriesRefs = cloneSlice(prev.SeriesRefs)
	}

	if _, err := w.commit(b, previous); err != nil {
		return err
	}

	batch := NewBatch()
	if err := w.pushSummary(batch, b, previous); err != nil {
		return err
	}
	return w.finish(b, batch)
}

func (w *contentWriter) VisitSeries(s *Series) error {
	previous, written, err := w.begin(s)
	if err != nil || !written {
		return err
	}
	preserveContainer(&s.ContainerBase, previous)

	if _, err := w.commit(s, previous); err != nil {
		return err
	}

	batch := NewBatch()
	if err := w.pushSummary(batch, s, previous); err != nil {
		return err
	}

	column := PrefixSeriesRef + s.ID.String()
	if prev, ok := previous.(*Series); ok && prev.BrandRef != nil {
		if s.BrandRef == nil || s.BrandRef.ID != prev.BrandRef.ID {
			batch.Delete(TableContent, prev.BrandRef.ID.String(), column)
			w.updated = append(w.updated, *prev.BrandRef)
		}
	}
	if s.BrandRef != nil {
		brand := s.BrandRef.ID.String()
		if s.IsActivelyPublished() {
			data, err := encodeJSON(SeriesRefOf(s))
			if err != nil {
				return err
			}
			batch.Put(TableContent, brand, column, data)
		} else {
			batch.Delete(TableContent, brand, column)
		}
		w.updated = append(w.updated, *s.BrandRef)
	}
	return w.finish(s, batch)
}

func (w *contentWriter) VisitEpisode(e *Episode) error {
	return w.writeItem(e, &e.Item, e)
}

func (w *contentWriter) VisitItem(i *Item) error {
	return w.writeItem(i, i, nil)
}

func (w *contentWriter) VisitFilm(f *Film) error {
	return w.writeStandalone(f)
}

func (w *contentWriter) VisitSong(s *Song) error {
	return w.writeStandalone(s)
}

func (w *contentWriter) VisitClip(*Clip) error {
	return ErrClipNotWritable
}

// begin resolves the previous version and applies the hash gate. When the
// content is unchanged the result is filled in and written is false.
func (w *contentWriter) begin(content Content) (Content, bool, error) {
	previous, err := w.store.resolvePrevious(w.ctx, content)
	if err != nil {
		return nil, false, err
	}
	changed, err := w.store.changed(content, previous)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		content.Base().ID = previous.Base().ID
		w.result = WriteResult[Content]{Resource: content, Previous: previous}
		return previous, false, nil
	}
	return previous, true, nil
}

// commit stamps and persists the content row.
func (w *contentWriter) commit(content, previous Content) (time.Time, error) {
	now, err := w.store.prepare(w.ctx, content, previous)
	if err != nil {
		return time.Time{}, err
	}
	if err := w.store.persist(w.ctx, content, previous); err != nil {
		return time.Time{}, err
	}
	w.result = WriteResult[Content]{
		Resource:  content,
		Written:   true,
		WriteTime: now,
		Previous:  previous,
	}
	w.updated = append([]ContentRef{RefOf(content)}, w.updated...)
	return now, nil
}

// finish applies the back-reference batch. The content row is already
// committed; a failure here leaves related rows stale until their next write.
func (w *contentWriter) finish(content Content, batch *Batch) error {
	if err := w.store.execute(w.ctx, batch); err != nil {
		return fmt.Errorf("failed to update references of %s %s: %w", content.Type(), content.Base().ID, err)
	}
	return nil
}

func (w *contentWriter) writeStandalone(content Content) error {
	previous, written, err := w.begin(content)
	if err != nil || !written {
		return err
	}
	if _, err := w.commit(content, previous); err != nil {
		return err
	}
	batch := NewBatch()
	w.detachFromParents(batch, content.Base().ID, previous, nil, nil)
	return w.finish(content, batch)
}

func (w *contentWriter) writeItem(content Content, item *Item, episode *Episode) error {
	previous, written, err := w.begin(content)
	if err != nil || !written {
		return err
	}

	item.ContainerSummary = nil
	if item.ContainerRef != nil {
		summary, err := w.containerSummary(item.ContainerRef.ID)
		if err != nil {
			return err
		}
		item.ContainerSummary = &summary
	}
	var series *ContentRef
	if episode != nil && episode.SeriesRef != nil {
		s, err := w.series(episode.SeriesRef.ID)
		if err != nil {
			return err
		}
		ref := SeriesRefOf(s)
		episode.SeriesRef = &ref
		series = &ref.ContentRef
	}

	now, err := w.commit(content, previous)
	if err != nil {
		return err
	}

	id := content.Base().ID
	batch := NewBatch()
	w.detachFromParents(batch, id, previous, item.ContainerRef, series)

	parents := make([]ContentRef, 0, 2)
	if item.ContainerRef != nil {
		parents = append(parents, *item.ContainerRef)
	}
	if series != nil && (item.ContainerRef == nil || series.ID != item.ContainerRef.ID) {
		parents = append(parents, *series)
	}
	for _, parent := range parents {
		if listable(content) {
			if err := putChildRefs(batch, parent.ID, content, now); err != nil {
				return err
			}
		} else {
			removeChildRefs(batch, parent.ID, id)
		}
		w.updated = append(w.updated, parent)
	}
	return w.finish(content, batch)
}

// detachFromParents removes the back-references held by the previous
// container and series when the content no longer belongs to them.
func (w *contentWriter) detachFromParents(batch *Batch, id Id, previous Content, container, series *ContentRef) {
	for _, old := range parentsOf(previous) {
		if (container != nil && container.ID == old.ID) || (series != nil && series.ID == old.ID) {
			continue
		}
		removeChildRefs(batch, old.ID, id)
		w.updated = append(w.updated, old)
	}
}

func (w *contentWriter) containerSummary(id Id) (ContainerSummary, error) {
	container, err := w.resolveRelated(id, "")
	if err != nil {
		return ContainerSummary{}, err
	}
	summary, ok := SummaryOf(container)
	if !ok {
		return ContainerSummary{}, &MissingResourceError{ID: id, Type: container.Type()}
	}
	return summary, nil
}

func (w *contentWriter) series(id Id) (*Series, error) {
	content, err := w.resolveRelated(id, ContentTypeSeries)
	if err != nil {
		return nil, err
	}
	series, ok := content.(*Series)
	if !ok {
		return nil, &MissingResourceError{ID: id, Type: ContentTypeSeries}
	}
	return series, nil
}

// resolveRelated reads a resource the write depends on. Absent and corrupt
// rows both count as missing.
func (w *contentWriter) resolveRelated(id Id, t ContentType) (Content, error) {
	content, err := w.store.resolve(w.ctx, id)
	if err == nil {
		return content, nil
	}
	if errors.Is(err, ErrContentNotFound) {
		return nil, &MissingResourceError{ID: id, Type: t}
	}
	if IsCorrupt(err) {
		w.store.logger.WarnContext(w.ctx, "related content is corrupt", "id", id, "err", err)
		return nil, &MissingResourceError{ID: id, Type: t}
	}
	return nil, err
}

// pushSummary rewrites the cached container summary on every child that has
// this container as its container, when the summary changed. Every child is
// notified so it can re-resolve.
func (w *contentWriter) pushSummary(batch *Batch, container Content, previous Content) error {
	summary, _ := SummaryOf(container)
	if previous != nil {
		if prev, ok := SummaryOf(previous); ok && prev == summary {
			return nil
		}
	}
	refs := childRefs(container)
	if len(refs) == 0 {
		return nil
	}

	ids := make([]Id, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	children, err := w.store.read(w.ctx, ids, ConsistencyStrong)
	if err != nil {
		return err
	}
	data, err := encodeJSON(summary)
	if err != nil {
		return err
	}

	id := container.Base().ID
	for _, ref := range refs {
		w.updated = append(w.updated, ref.ContentRef)
		child, ok := children[ref.ID]
		if !ok {
			continue
		}
		if parent := containerOf(child); parent != nil && parent.ID == id {
			batch.Put(TableContent, ref.ID.String(), ColumnContainerSummary, data)
		}
	}
	return nil
}

// preserveContainer replaces the child projections on c with the stored
// ones. Containers only gain children through item writes, so a new
// container starts with none.
func preserveContainer(c *ContainerBase, previous Content) {
	kept := ContainerBase{}
	switch p := previous.(type) {
	case *Brand:
		kept = p.ContainerBase.clone()
	case *Series:
		kept = p.ContainerBase.clone()
	}
	c.ItemRefs = kept.ItemRefs
	c.ItemSummaries = kept.ItemSummaries
	c.AvailableContent = kept.AvailableContent
	c.UpcomingContent = kept.UpcomingContent
}

func childRefs(c Content) []ItemRef {
	switch v := c.(type) {
	case *Brand:
		return v.ItemRefs
	case *Series:
		return v.ItemRefs
	}
	return nil
}

func containerOf(c Content) *ContentRef {
	switch v := c.(type) {
	case *Episode:
		return v.ContainerRef
	case *Item:
		return v.ContainerRef
	}
	return nil
}

// parentsOf returns the container and series an item is listed on.
func parentsOf(c Content) []ContentRef {
	var parents []ContentRef
	if ref := containerOf(c); ref != nil {
		parents = append(parents, *ref)
	}
	if e, ok := c.(*Episode); ok && e.SeriesRef != nil {
		if len(parents) == 0 || parents[0].ID != e.SeriesRef.ID {
			parents = append(parents, e.SeriesRef.ContentRef)
		}
	}
	return parents
}

// listable reports whether an item should appear on its containers.
func listable(c Content) bool {
	base := c.Base()
	return base.IsActivelyPublished() && !base.GenericDescription
}

func putChildRefs(batch *Batch, parent Id, child Content, now time.Time) error {
	row := parent.String()
	id := child.Base().ID.String()

	ref, err := encodeJSON(ItemRefOf(child))
	if err != nil {
		return err
	}
	summary, err := encodeJSON(ItemSummaryOf(child))
	if err != nil {
		return err
	}
	batch.Put(TableContent, row, PrefixItemRef+id, ref)
	batch.Put(TableContent, row, PrefixItemSummary+id, summary)

	if available := AvailableLocations(locationsOf(child)); len(available) > 0 {
		data, err := encodeJSON(available)
		if err != nil {
			return err
		}
		batch.Put(TableContent, row, PrefixAvailable+id, data)
	} else {
		batch.Delete(TableContent, row, PrefixAvailable+id)
	}

	if upcoming := UpcomingBroadcasts(broadcastsOf(child), now); len(upcoming) > 0 {
		data, err := encodeJSON(upcoming)
		if err != nil {
			return err
		}
		batch.Put(TableContent, row, PrefixUpcoming+id, data)
	} else {
		batch.Delete(TableContent, row, PrefixUpcoming+id)
	}
	return nil
}

func removeChildRefs(batch *Batch, parent, child Id) {
	id := child.String()
	batch.Delete(TableContent, parent.String(),
		PrefixItemRef+id,
		PrefixItemSummary+id,
		PrefixAvailable+id,
		PrefixUpcoming+id,
	)
}

func locationsOf(c Content) []Location {
	switch v := c.(type) {
	case *Episode:
		return v.Locations
	case *Item:
		return v.Locations
	case *Film:
		return v.Locations
	case *Song:
		return v.Locations
	case *Clip:
		return v.Locations
	}
	return nil
}
