package deer

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ContentHasher digests the fields of content that a writer controls.
// Identity, write timestamps and every denormalized projection pushed in by
// related content are excluded, so the hash of a freshly ingested value
// matches the hash of the stored one when nothing meaningful changed.
type ContentHasher struct{}

// NewContentHasher creates a hasher.
func NewContentHasher() *ContentHasher {
	return &ContentHasher{}
}

type hashEnvelope struct {
	Type    ContentType `json:"type"`
	Content Content     `json:"content"`
}

// Hash returns the hex encoded xxhash64 of the canonical JSON form.
func (h *ContentHasher) Hash(content Content) (string, error) {
	if content == nil {
		return "", ErrNilContent
	}
	view := hashView(content)
	data, err := json.Marshal(hashEnvelope{Type: view.Type(), Content: view})
	if err != nil {
		return "", fmt.Errorf("failed to encode %s for hashing: %w", content.Type(), err)
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

func hashView(content Content) Content {
	view := content.Copy()
	base := view.Base()
	base.ID = 0
	base.FirstSeen = time.Time{}
	base.LastUpdated = time.Time{}
	base.ThisOrChildLastUpdated = time.Time{}

	switch c := view.(type) {
	case *Brand:
		clearContainer(&c.ContainerBase)
		c.SeriesRefs = nil
	case *Series:
		clearContainer(&c.ContainerBase)
	case *Episode:
		c.ContainerSummary = nil
		if c.SeriesRef != nil {
			// the rest of the ref is refreshed from the series on write
			c.SeriesRef = &SeriesRef{ContentRef: ContentRef{ID: c.SeriesRef.ID}}
		}
		c.Broadcasts = canonicalBroadcasts(c.Broadcasts)
	case *Item:
		c.ContainerSummary = nil
		c.Broadcasts = canonicalBroadcasts(c.Broadcasts)
	case *Film:
		c.Broadcasts = canonicalBroadcasts(c.Broadcasts)
	case *Song:
		c.Broadcasts = canonicalBroadcasts(c.Broadcasts)
	case *Clip:
		c.Broadcasts = canonicalBroadcasts(c.Broadcasts)
	}
	return view
}

func clearContainer(c *ContainerBase) {
	c.ItemRefs = nil
	c.ItemSummaries = nil
	c.AvailableContent = nil
	c.UpcomingContent = nil
}

// canonicalBroadcasts mirrors how broadcasts are stored: one cell per
// BroadcastKey, later duplicates replacing earlier ones.
func canonicalBroadcasts(bs []Broadcast) []Broadcast {
	if len(bs) == 0 {
		return nil
	}
	byKey := make(map[string]Broadcast, len(bs))
	for _, b := range bs {
		byKey[BroadcastKey(b)] = b
	}
	keys := slices.Sorted(maps.Keys(byKey))
	out := make([]Broadcast, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}
