package codec_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/codec"
)

func episode() *deer.Episode {
	start := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	e := &deer.Episode{EpisodeNumber: 3, SeriesNumber: 1}
	e.ID = 10
	e.Source = "bbc.co.uk"
	e.Title = "Third"
	e.ContainerRef = &deer.ContentRef{ID: 1, Source: "bbc.co.uk", Type: deer.ContentTypeBrand}
	e.ContainerSummary = &deer.ContainerSummary{Type: deer.ContentTypeBrand, Title: "Brand"}
	e.SeriesRef = &deer.SeriesRef{ContentRef: deer.ContentRef{ID: 2, Type: deer.ContentTypeSeries}, Title: "S1", SeriesNumber: 1}
	e.Broadcasts = []deer.Broadcast{
		{SourceID: "late", ChannelID: 1, TransmissionTime: start.Add(time.Hour), TransmissionEndTime: start.Add(2 * time.Hour)},
		{SourceID: "early", ChannelID: 1, TransmissionTime: start, TransmissionEndTime: start.Add(time.Hour)},
	}
	return e
}

func TestMarshal_EpisodeCells(t *testing.T) {
	cols, err := codec.New().Marshal(episode())
	require.NoError(t, err)

	assert.Equal(t, []string{
		deer.ColumnBody,
		deer.PrefixBroadcast + "early",
		deer.PrefixBroadcast + "late",
		deer.ColumnContainerSummary,
		deer.ColumnID,
		deer.ColumnSource,
		deer.ColumnType,
	}, cols.Names())
	assert.Equal(t, "episode", string(cols[deer.ColumnType]))
	assert.Equal(t, "10", string(cols[deer.ColumnID]))
	assert.NotContains(t, string(cols[deer.ColumnBody]), "broadcasts")
	assert.NotContains(t, string(cols[deer.ColumnBody]), "container_summary")
}

func TestMarshal_ContainerLeavesProjectionsOut(t *testing.T) {
	b := &deer.Brand{}
	b.ID = 1
	b.Source = "bbc.co.uk"
	b.Title = "Brand"
	b.ItemRefs = []deer.ItemRef{{ContentRef: deer.ContentRef{ID: 10}}}
	b.ItemSummaries = map[deer.Id]deer.ItemSummary{10: {Title: "child"}}
	b.SeriesRefs = []deer.SeriesRef{{ContentRef: deer.ContentRef{ID: 2}}}

	cols, err := codec.New().Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, []string{deer.ColumnBody, deer.ColumnID, deer.ColumnSource, deer.ColumnType}, cols.Names())
	assert.Len(t, b.ItemRefs, 1, "marshal does not modify its input")
}

func TestMarshal_Invalid(t *testing.T) {
	m := codec.New()
	_, err := m.Marshal(nil)
	assert.ErrorIs(t, err, deer.ErrNilContent)

	noID := &deer.Film{}
	noID.Source = "pa"
	_, err = m.Marshal(noID)
	assert.Error(t, err)

	noSource := &deer.Film{}
	noSource.ID = 1
	_, err = m.Marshal(noSource)
	assert.ErrorIs(t, err, deer.ErrMissingSource)
}

func TestUnmarshal_Episode(t *testing.T) {
	m := codec.New()
	original := episode()
	cols, err := m.Marshal(original)
	require.NoError(t, err)

	content, err := m.Unmarshal("10", cols)
	require.NoError(t, err)
	got, ok := content.(*deer.Episode)
	require.True(t, ok)

	assert.Equal(t, original.ContainerSummary, got.ContainerSummary)
	assert.Equal(t, original.SeriesRef, got.SeriesRef)
	require.Len(t, got.Broadcasts, 2)
	assert.Equal(t, "early", got.Broadcasts[0].SourceID, "broadcasts are ordered by transmission time")
	assert.Equal(t, "late", got.Broadcasts[1].SourceID)
}

func TestUnmarshal_HydratesContainer(t *testing.T) {
	refJSON := func(id deer.Id, sortKey string) []byte {
		return []byte(`{"id":` + id.String() + `,"source":"bbc.co.uk","type":"episode","sort_key":"` + sortKey + `"}`)
	}
	cols := deer.Columns{
		deer.ColumnType:   []byte("brand"),
		deer.ColumnSource: []byte("bbc.co.uk"),
		deer.ColumnID:     []byte("1"),
		deer.ColumnBody:   []byte(`{"title":"Brand"}`),

		deer.PrefixItemRef + "11":     refJSON(11, "0000100002"),
		deer.PrefixItemRef + "10":     refJSON(10, "0000100001"),
		deer.PrefixItemSummary + "10": []byte(`{"ref":{"id":10},"title":"Ep 1"}`),
		deer.PrefixAvailable + "10":   []byte(`[{"uri":"http://example.com","available":true}]`),
		deer.PrefixUpcoming + "11":    []byte(`[{"source_id":"b1","channel_id":1,"transmission_time":"2026-05-01T20:00:00Z","transmission_end_time":"2026-05-01T21:00:00Z"}]`),
		deer.PrefixSeriesRef + "3":    []byte(`{"id":3,"series_number":2,"actively_published":true}`),
		deer.PrefixSeriesRef + "2":    []byte(`{"id":2,"series_number":1,"actively_published":true}`),
	}

	content, err := codec.New().Unmarshal("1", cols)
	require.NoError(t, err)
	brand := content.(*deer.Brand)

	assert.Equal(t, "Brand", brand.Title)
	require.Len(t, brand.ItemRefs, 2)
	assert.Equal(t, deer.Id(10), brand.ItemRefs[0].ID)
	assert.Equal(t, deer.Id(11), brand.ItemRefs[1].ID)
	assert.Equal(t, "Ep 1", brand.ItemSummaries[10].Title)
	assert.True(t, brand.AvailableContent[10][0].Available)
	assert.Equal(t, "b1", brand.UpcomingContent[11][0].SourceID)
	require.Len(t, brand.SeriesRefs, 2)
	assert.Equal(t, deer.Id(2), brand.SeriesRefs[0].ID)
}

func TestUnmarshal_Corrupt(t *testing.T) {
	valid := func() deer.Columns {
		return deer.Columns{
			deer.ColumnType:   []byte("film"),
			deer.ColumnSource: []byte("pa"),
			deer.ColumnID:     []byte("5"),
			deer.ColumnBody:   []byte(`{"title":"Film"}`),
		}
	}

	tests := []struct {
		name    string
		modify  func(deer.Columns)
		missing string
	}{
		{"no type", func(c deer.Columns) { delete(c, deer.ColumnType) }, deer.ColumnType},
		{"no source", func(c deer.Columns) { delete(c, deer.ColumnSource) }, deer.ColumnSource},
		{"no id", func(c deer.Columns) { delete(c, deer.ColumnID) }, deer.ColumnID},
		{"unknown type", func(c deer.Columns) { c[deer.ColumnType] = []byte("podcast") }, ""},
		{"bad id", func(c deer.Columns) { c[deer.ColumnID] = []byte("five") }, ""},
		{"bad body", func(c deer.Columns) { c[deer.ColumnBody] = []byte("{") }, ""},
		{"bad broadcast", func(c deer.Columns) { c[deer.PrefixBroadcast+"x"] = []byte("[") }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols := valid()
			tt.modify(cols)
			_, err := codec.New().Unmarshal("5", cols)

			var corrupt *deer.CorruptContentError
			require.ErrorAs(t, err, &corrupt)
			assert.Equal(t, "5", corrupt.Key)
			assert.Equal(t, tt.missing, corrupt.Missing)
			assert.True(t, deer.IsCorrupt(err))
		})
	}

	t.Run("body is optional", func(t *testing.T) {
		cols := valid()
		delete(cols, deer.ColumnBody)
		content, err := codec.New().Unmarshal("5", cols)
		require.NoError(t, err)
		assert.Equal(t, deer.Id(5), content.Base().ID)
		assert.Equal(t, deer.ContentTypeFilm, content.Type())
	})
}
