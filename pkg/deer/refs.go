package deer

import (
	"fmt"
	"strings"
	"time"
)

// RefOf returns the lightweight reference to content.
func RefOf(c Content) ContentRef {
	base := c.Base()
	return ContentRef{ID: base.ID, Source: base.Source, Type: c.Type()}
}

// ItemRefOf returns the reference a container keeps for a child.
func ItemRefOf(c Content) ItemRef {
	return ItemRef{
		ContentRef: RefOf(c),
		SortKey:    sortKey(c),
		UpdatedAt:  c.Base().ThisOrChildLastUpdated,
	}
}

// SeriesRefOf returns the reference a brand or episode keeps for a series.
func SeriesRefOf(s *Series) SeriesRef {
	return SeriesRef{
		ContentRef:        RefOf(s),
		Title:             s.Title,
		SeriesNumber:      s.SeriesNumber,
		UpdatedAt:         s.ThisOrChildLastUpdated,
		ActivelyPublished: s.IsActivelyPublished(),
	}
}

// SummaryOf returns the container summary for brands and series.
func SummaryOf(c Content) (ContainerSummary, bool) {
	switch v := c.(type) {
	case *Brand:
		return ContainerSummary{
			Type:        ContentTypeBrand,
			Title:       v.Title,
			Description: v.Description,
		}, true
	case *Series:
		return ContainerSummary{
			Type:         ContentTypeSeries,
			Title:        v.Title,
			Description:  v.Description,
			SeriesNumber: v.SeriesNumber,
		}, true
	}
	return ContainerSummary{}, false
}

// ItemSummaryOf returns the projection of a child cached on its container.
func ItemSummaryOf(c Content) ItemSummary {
	base := c.Base()
	summary := ItemSummary{
		Ref:         ItemRefOf(c),
		Title:       base.Title,
		Description: base.Description,
		Image:       base.Image,
	}
	if e, ok := c.(*Episode); ok {
		summary.EpisodeNumber = e.EpisodeNumber
	}
	return summary
}

// UpcomingBroadcasts returns refs for the broadcasts that have not ended.
func UpcomingBroadcasts(broadcasts []Broadcast, now time.Time) []BroadcastRef {
	var refs []BroadcastRef
	for _, b := range broadcasts {
		if b.IsUpcoming(now) {
			refs = append(refs, b.Ref())
		}
	}
	return refs
}

// AvailableLocations returns summaries of the locations that are available.
func AvailableLocations(locations []Location) []LocationSummary {
	var out []LocationSummary
	for _, l := range locations {
		if l.Available {
			out = append(out, l.Summary())
		}
	}
	return out
}

// episodes sort by series then episode number, everything else by title
func sortKey(c Content) string {
	if e, ok := c.(*Episode); ok && (e.EpisodeNumber > 0 || e.SeriesNumber > 0) {
		return fmt.Sprintf("%05d%05d", e.SeriesNumber, e.EpisodeNumber)
	}
	return "~" + strings.ToLower(c.Base().Title)
}
