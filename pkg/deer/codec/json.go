// Package codec maps content onto the cells of a content row.
package codec

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
)

// JSON is a deer.Marshaller that stores the owned fields of content as one
// JSON body cell and every projection as its own JSON cell.
type JSON struct{}

// New creates a JSON marshaller.
func New() deer.Marshaller {
	return &JSON{}
}

// Marshal returns the cells owned by content.
func (m *JSON) Marshal(content deer.Content) (deer.Columns, error) {
	if content == nil {
		return nil, deer.ErrNilContent
	}
	base := content.Base()
	if base.ID == 0 {
		return nil, errors.New("content has no id")
	}
	if base.Source == "" {
		return nil, deer.ErrMissingSource
	}

	cols := deer.Columns{
		deer.ColumnType:   []byte(content.Type()),
		deer.ColumnSource: []byte(base.Source),
		deer.ColumnID:     []byte(base.ID.String()),
	}

	body := content.Copy()
	switch c := body.(type) {
	case *deer.Brand:
		stripContainer(&c.ContainerBase)
		c.SeriesRefs = nil
	case *deer.Series:
		stripContainer(&c.ContainerBase)
	case *deer.Episode:
		if err := putItem(cols, &c.Item); err != nil {
			return nil, err
		}
	case *deer.Item:
		if err := putItem(cols, c); err != nil {
			return nil, err
		}
	case *deer.Film:
		if err := putBroadcasts(cols, &c.ItemBase); err != nil {
			return nil, err
		}
	case *deer.Song:
		if err := putBroadcasts(cols, &c.ItemBase); err != nil {
			return nil, err
		}
	case *deer.Clip:
		if err := putBroadcasts(cols, &c.ItemBase); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", content.Type(), base.ID, err)
	}
	cols[deer.ColumnBody] = data
	return cols, nil
}

func stripContainer(c *deer.ContainerBase) {
	c.ItemRefs = nil
	c.ItemSummaries = nil
	c.AvailableContent = nil
	c.UpcomingContent = nil
}

func putItem(cols deer.Columns, item *deer.Item) error {
	if item.ContainerSummary != nil {
		data, err := json.Marshal(item.ContainerSummary)
		if err != nil {
			return fmt.Errorf("failed to encode container summary: %w", err)
		}
		cols[deer.ColumnContainerSummary] = data
		item.ContainerSummary = nil
	}
	return putBroadcasts(cols, &item.ItemBase)
}

func putBroadcasts(cols deer.Columns, item *deer.ItemBase) error {
	for _, b := range item.Broadcasts {
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to encode broadcast %s: %w", b.SourceID, err)
		}
		cols[deer.PrefixBroadcast+deer.BroadcastKey(b)] = data
	}
	item.Broadcasts = nil
	return nil
}

// Unmarshal rebuilds content from a content row.
func (m *JSON) Unmarshal(key string, cols deer.Columns) (deer.Content, error) {
	for _, name := range []string{deer.ColumnType, deer.ColumnSource, deer.ColumnID} {
		if len(cols[name]) == 0 {
			return nil, &deer.CorruptContentError{Key: key, Missing: name}
		}
	}

	content, ok := deer.NewContent(deer.ContentType(cols[deer.ColumnType]))
	if !ok {
		return nil, &deer.CorruptContentError{
			Key: key,
			Err: fmt.Errorf("unknown content type %q", cols[deer.ColumnType]),
		}
	}
	id, err := deer.ParseId(string(cols[deer.ColumnID]))
	if err != nil {
		return nil, &deer.CorruptContentError{Key: key, Err: fmt.Errorf("bad id: %w", err)}
	}

	if body, ok := cols[deer.ColumnBody]; ok {
		if err := json.Unmarshal(body, content); err != nil {
			return nil, &deer.CorruptContentError{Key: key, Err: fmt.Errorf("bad body: %w", err)}
		}
	}
	base := content.Base()
	base.ID = id
	base.Source = deer.Publisher(cols[deer.ColumnSource])

	if err := hydrate(content, cols); err != nil {
		return nil, &deer.CorruptContentError{Key: key, Err: err}
	}
	return content, nil
}

func hydrate(content deer.Content, cols deer.Columns) error {
	switch c := content.(type) {
	case *deer.Brand:
		if err := hydrateContainer(&c.ContainerBase, cols); err != nil {
			return err
		}
		refs, err := decodeEach[deer.SeriesRef](cols.WithPrefix(deer.PrefixSeriesRef))
		if err != nil {
			return fmt.Errorf("bad series ref: %w", err)
		}
		slices.SortFunc(refs, func(a, b deer.SeriesRef) int {
			if a.SeriesNumber != b.SeriesNumber {
				return cmp.Compare(a.SeriesNumber, b.SeriesNumber)
			}
			return cmp.Compare(a.ID, b.ID)
		})
		c.SeriesRefs = refs
	case *deer.Series:
		return hydrateContainer(&c.ContainerBase, cols)
	case *deer.Episode:
		return hydrateItem(&c.Item, cols)
	case *deer.Item:
		return hydrateItem(c, cols)
	case *deer.Film:
		return hydrateBroadcasts(&c.ItemBase, cols)
	case *deer.Song:
		return hydrateBroadcasts(&c.ItemBase, cols)
	case *deer.Clip:
		return hydrateBroadcasts(&c.ItemBase, cols)
	}
	return nil
}

func hydrateItem(item *deer.Item, cols deer.Columns) error {
	if data, ok := cols[deer.ColumnContainerSummary]; ok {
		var summary deer.ContainerSummary
		if err := json.Unmarshal(data, &summary); err != nil {
			return fmt.Errorf("bad container summary: %w", err)
		}
		item.ContainerSummary = &summary
	}
	return hydrateBroadcasts(&item.ItemBase, cols)
}

func hydrateBroadcasts(item *deer.ItemBase, cols deer.Columns) error {
	broadcasts, err := decodeEach[deer.Broadcast](cols.WithPrefix(deer.PrefixBroadcast))
	if err != nil {
		return fmt.Errorf("bad broadcast: %w", err)
	}
	slices.SortFunc(broadcasts, func(a, b deer.Broadcast) int {
		if c := a.TransmissionTime.Compare(b.TransmissionTime); c != 0 {
			return c
		}
		return strings.Compare(a.SourceID, b.SourceID)
	})
	item.Broadcasts = broadcasts
	return nil
}

func hydrateContainer(c *deer.ContainerBase, cols deer.Columns) error {
	refs, err := decodeEach[deer.ItemRef](cols.WithPrefix(deer.PrefixItemRef))
	if err != nil {
		return fmt.Errorf("bad item ref: %w", err)
	}
	slices.SortFunc(refs, func(a, b deer.ItemRef) int {
		if c := strings.Compare(a.SortKey, b.SortKey); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	c.ItemRefs = refs

	if c.ItemSummaries, err = decodeByID[deer.ItemSummary](cols.WithPrefix(deer.PrefixItemSummary)); err != nil {
		return fmt.Errorf("bad item summary: %w", err)
	}
	if c.AvailableContent, err = decodeByID[[]deer.LocationSummary](cols.WithPrefix(deer.PrefixAvailable)); err != nil {
		return fmt.Errorf("bad available content: %w", err)
	}
	if c.UpcomingContent, err = decodeByID[[]deer.BroadcastRef](cols.WithPrefix(deer.PrefixUpcoming)); err != nil {
		return fmt.Errorf("bad upcoming content: %w", err)
	}
	return nil
}

func decodeEach[T any](cols deer.Columns) ([]T, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	out := make([]T, 0, len(cols))
	for _, name := range cols.Names() {
		var v T
		if err := json.Unmarshal(cols[name], &v); err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeByID[T any](cols deer.Columns) (map[deer.Id]T, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	out := make(map[deer.Id]T, len(cols))
	for name, data := range cols {
		id, err := deer.ParseId(name)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		out[id] = v
	}
	return out, nil
}
