package deer

import (
	"strconv"
	"time"
)

// Id identifies a piece of content, a channel or an equivalence graph.
// The zero value means no id has been assigned yet.
type Id int64

// String returns the decimal form used as a storage row key.
func (id Id) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseId parses the decimal form produced by Id.String.
func ParseId(s string) (Id, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Id(v), nil
}

// Publisher is the key of the source that supplied a piece of content.
type Publisher string

// Alias is a namespaced external identifier used to find content when no Id is known.
type Alias struct {
	Namespace string `json:"namespace"`
	Value     string `json:"value"`
}

// ContentType is the domain type for the closed set of content variants.
type ContentType string

// Content type constants (typed).
const (
	ContentTypeBrand   ContentType = "brand"
	ContentTypeSeries  ContentType = "series"
	ContentTypeEpisode ContentType = "episode"
	ContentTypeItem    ContentType = "item"
	ContentTypeFilm    ContentType = "film"
	ContentTypeSong    ContentType = "song"
	ContentTypeClip    ContentType = "clip"
)

// IsContainer reports whether content of this type owns item refs.
func (t ContentType) IsContainer() bool {
	return t == ContentTypeBrand || t == ContentTypeSeries
}

// Content is a single asset in the catalog. The set of implementations is
// closed; dispatch over it goes through Accept.
type Content interface {
	Base() *ContentBase
	Type() ContentType
	Accept(v ContentVisitor) error
	// Copy returns a copy that shares no slices or maps with the receiver.
	Copy() Content
	isContent()
}

// ContentVisitor handles every content variant.
type ContentVisitor interface {
	VisitBrand(*Brand) error
	VisitSeries(*Series) error
	VisitEpisode(*Episode) error
	VisitItem(*Item) error
	VisitFilm(*Film) error
	VisitSong(*Song) error
	VisitClip(*Clip) error
}

// ContentBase holds the attributes shared by every variant.
type ContentBase struct {
	ID                     Id        `json:"id,omitempty"`
	Source                 Publisher `json:"source"`
	Aliases                []Alias   `json:"aliases,omitempty"`
	CanonicalURI           string    `json:"canonical_uri,omitempty"`
	Title                  string    `json:"title,omitempty"`
	Description            string    `json:"description,omitempty"`
	Image                  string    `json:"image,omitempty"`
	Genres                 []string  `json:"genres,omitempty"`
	FirstSeen              time.Time `json:"first_seen,omitzero"`
	LastUpdated            time.Time `json:"last_updated,omitzero"`
	ThisOrChildLastUpdated time.Time `json:"this_or_child_last_updated,omitzero"`

	// Inactive marks content that is no longer actively published. There is
	// no delete path; this is the soft delete.
	Inactive bool `json:"inactive,omitempty"`

	// GenericDescription marks placeholder items whose description is shared
	// across many broadcasts and which should not be listed on a container.
	GenericDescription bool `json:"generic_description,omitempty"`
}

func (c *ContentBase) Base() *ContentBase { return c }

func (c *ContentBase) isContent() {}

// IsActivelyPublished reports whether the content is live.
func (c *ContentBase) IsActivelyPublished() bool { return !c.Inactive }

func (c ContentBase) clone() ContentBase {
	c.Aliases = cloneSlice(c.Aliases)
	c.Genres = cloneSlice(c.Genres)
	return c
}

// ContentRef is a lightweight pointer to another piece of content. It is
// used for container and brand references.
type ContentRef struct {
	ID     Id          `json:"id"`
	Source Publisher   `json:"source"`
	Type   ContentType `json:"type"`
}

// ItemRef is what a container keeps for each of its children.
type ItemRef struct {
	ContentRef
	SortKey   string    `json:"sort_key,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// SeriesRef is what a brand keeps for each of its series, and what an
// episode keeps for its series.
type SeriesRef struct {
	ContentRef
	Title             string    `json:"title,omitempty"`
	SeriesNumber      int       `json:"series_number,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitzero"`
	ActivelyPublished bool      `json:"actively_published"`
}

// ContainerSummary is the projection of a container cached on each child.
type ContainerSummary struct {
	Type         ContentType `json:"type"`
	Title        string      `json:"title,omitempty"`
	Description  string      `json:"description,omitempty"`
	SeriesNumber int         `json:"series_number,omitempty"`
}

// ItemSummary is the projection of a child cached on its container.
type ItemSummary struct {
	Ref           ItemRef `json:"ref"`
	Title         string  `json:"title,omitempty"`
	Description   string  `json:"description,omitempty"`
	Image         string  `json:"image,omitempty"`
	EpisodeNumber int     `json:"episode_number,omitempty"`
}

// Broadcast is a scheduled transmission of an item.
type Broadcast struct {
	SourceID            string    `json:"source_id"`
	ChannelID           Id        `json:"channel_id"`
	TransmissionTime    time.Time `json:"transmission_time"`
	TransmissionEndTime time.Time `json:"transmission_end_time"`
	Premiere            bool      `json:"premiere,omitempty"`
	Inactive            bool      `json:"inactive,omitempty"`
}

// Ref projects the broadcast for the upcoming-content cache.
func (b Broadcast) Ref() BroadcastRef {
	return BroadcastRef{
		SourceID:            b.SourceID,
		ChannelID:           b.ChannelID,
		TransmissionTime:    b.TransmissionTime,
		TransmissionEndTime: b.TransmissionEndTime,
	}
}

// IsUpcoming reports whether the broadcast has not finished by now.
func (b Broadcast) IsUpcoming(now time.Time) bool {
	return !b.Inactive && b.TransmissionEndTime.After(now)
}

// BroadcastRef is the projection of a broadcast cached on containers.
type BroadcastRef struct {
	SourceID            string    `json:"source_id"`
	ChannelID           Id        `json:"channel_id"`
	TransmissionTime    time.Time `json:"transmission_time"`
	TransmissionEndTime time.Time `json:"transmission_end_time"`
}

// Location is somewhere an item can be watched or listened to.
type Location struct {
	URI               string     `json:"uri"`
	Available         bool       `json:"available"`
	Platform          string     `json:"platform,omitempty"`
	AvailabilityStart *time.Time `json:"availability_start,omitempty"`
	AvailabilityEnd   *time.Time `json:"availability_end,omitempty"`
}

// Summary projects the location for the available-content cache.
func (l Location) Summary() LocationSummary {
	return LocationSummary{
		URI:               l.URI,
		Available:         l.Available,
		AvailabilityStart: l.AvailabilityStart,
		AvailabilityEnd:   l.AvailabilityEnd,
	}
}

// LocationSummary is the projection of a location cached on containers.
type LocationSummary struct {
	URI               string     `json:"uri"`
	Available         bool       `json:"available"`
	AvailabilityStart *time.Time `json:"availability_start,omitempty"`
	AvailabilityEnd   *time.Time `json:"availability_end,omitempty"`
}

// ContainerBase is shared by Brand and Series. A container does not own
// its children; it only holds the refs and projections children push to it.
type ContainerBase struct {
	ContentBase
	ItemRefs         []ItemRef                `json:"item_refs,omitempty"`
	ItemSummaries    map[Id]ItemSummary       `json:"item_summaries,omitempty"`
	AvailableContent map[Id][]LocationSummary `json:"available_content,omitempty"`
	UpcomingContent  map[Id][]BroadcastRef    `json:"upcoming_content,omitempty"`
}

func (c ContainerBase) clone() ContainerBase {
	c.ContentBase = c.ContentBase.clone()
	c.ItemRefs = cloneSlice(c.ItemRefs)
	c.ItemSummaries = cloneMap(c.ItemSummaries)
	c.AvailableContent = cloneMap(c.AvailableContent)
	c.UpcomingContent = cloneMap(c.UpcomingContent)
	return c
}

// Brand is a top level container, e.g. a programme title.
type Brand struct {
	ContainerBase
	SeriesRefs []SeriesRef `json:"series_refs,omitempty"`
}

func (b *Brand) Type() ContentType { return ContentTypeBrand }
func (b *Brand) Accept(v ContentVisitor) error { return v.VisitBrand(b) }

func (b *Brand) Copy() Content {
	cp := *b
	cp.ContainerBase = b.ContainerBase.clone()
	cp.SeriesRefs = cloneSlice(b.SeriesRefs)
	return &cp
}

// Series is a container that may itself belong to a Brand.
type Series struct {
	ContainerBase
	BrandRef      *ContentRef `json:"brand_ref,omitempty"`
	SeriesNumber  int         `json:"series_number,omitempty"`
	TotalEpisodes int         `json:"total_episodes,omitempty"`
}

func (s *Series) Type() ContentType             { return ContentTypeSeries }
func (s *Series) Accept(v ContentVisitor) error { return v.VisitSeries(s) }

func (s *Series) Copy() Content {
	cp := *s
	cp.ContainerBase = s.ContainerBase.clone()
	cp.BrandRef = clonePtr(s.BrandRef)
	return &cp
}

// ItemBase is shared by every playable variant.
type ItemBase struct {
	ContentBase
	Broadcasts []Broadcast   `json:"broadcasts,omitempty"`
	Locations  []Location    `json:"locations,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

func (i ItemBase) clone() ItemBase {
	i.ContentBase = i.ContentBase.clone()
	i.Broadcasts = cloneSlice(i.Broadcasts)
	i.Locations = cloneSlice(i.Locations)
	return i
}

// Item is a playable asset that may sit inside a container.
type Item struct {
	ItemBase
	ContainerRef     *ContentRef       `json:"container_ref,omitempty"`
	ContainerSummary *ContainerSummary `json:"container_summary,omitempty"`
}

func (i *Item) Type() ContentType             { return ContentTypeItem }
func (i *Item) Accept(v ContentVisitor) error { return v.VisitItem(i) }

func (i *Item) Copy() Content {
	cp := i.clone()
	return &cp
}

func (i Item) clone() Item {
	i.ItemBase = i.ItemBase.clone()
	i.ContainerRef = clonePtr(i.ContainerRef)
	i.ContainerSummary = clonePtr(i.ContainerSummary)
	return i
}

// Episode is an item that belongs to a brand and optionally a series.
type Episode struct {
	Item
	SeriesRef     *SeriesRef `json:"series_ref,omitempty"`
	EpisodeNumber int        `json:"episode_number,omitempty"`
	SeriesNumber  int        `json:"series_number,omitempty"`
}

func (e *Episode) Type() ContentType             { return ContentTypeEpisode }
func (e *Episode) Accept(v ContentVisitor) error { return v.VisitEpisode(e) }

func (e *Episode) Copy() Content {
	cp := *e
	cp.Item = e.Item.clone()
	cp.SeriesRef = clonePtr(e.SeriesRef)
	return &cp
}

// Film is a standalone item with no container.
type Film struct {
	ItemBase
	ReleaseYear int `json:"release_year,omitempty"`
}

func (f *Film) Type() ContentType             { return ContentTypeFilm }
func (f *Film) Accept(v ContentVisitor) error { return v.VisitFilm(f) }

func (f *Film) Copy() Content {
	cp := *f
	cp.ItemBase = f.ItemBase.clone()
	return &cp
}

// Song is a standalone audio item.
type Song struct {
	ItemBase
	ISRC string `json:"isrc,omitempty"`
}

func (s *Song) Type() ContentType             { return ContentTypeSong }
func (s *Song) Accept(v ContentVisitor) error { return v.VisitSong(s) }

func (s *Song) Copy() Content {
	cp := *s
	cp.ItemBase = s.ItemBase.clone()
	return &cp
}

// Clip is an excerpt of other content. Clips are only ever stored as part
// of their parent and cannot be written on their own.
type Clip struct {
	ItemBase
	ClipOf Id `json:"clip_of,omitempty"`
}

func (c *Clip) Type() ContentType             { return ContentTypeClip }
func (c *Clip) Accept(v ContentVisitor) error { return v.VisitClip(c) }

func (c *Clip) Copy() Content {
	cp := *c
	cp.ItemBase = c.ItemBase.clone()
	return &cp
}

// NewContent returns an empty value of the given type.
func NewContent(t ContentType) (Content, bool) {
	switch t {
	case ContentTypeBrand:
		return &Brand{}, true
	case ContentTypeSeries:
		return &Series{}, true
	case ContentTypeEpisode:
		return &Episode{}, true
	case ContentTypeItem:
		return &Item{}, true
	case ContentTypeFilm:
		return &Film{}, true
	case ContentTypeSong:
		return &Song{}, true
	case ContentTypeClip:
		return &Clip{}, true
	}
	return nil, false
}

// WriteResult is the outcome of a write. Written is false when the content
// hash matched the stored version; in that case nothing was persisted and
// no notification was sent.
type WriteResult[C Content] struct {
	Resource  C
	Written   bool
	WriteTime time.Time
	Previous  Content
}

// HasPrevious reports whether a stored version existed before the write.
func (r WriteResult[C]) HasPrevious() bool {
	return r.Previous != nil
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
