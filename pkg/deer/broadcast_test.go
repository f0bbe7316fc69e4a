package deer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
)

func TestWriteBroadcast(t *testing.T) {
	f := newFixture(t)
	brand := newBrand("News")
	f.write(t, brand)
	series := newSeries("2026", 1, brand)
	f.write(t, series)
	episode := newEpisode("Tonight", 1, brand, series)
	f.write(t, episode)
	f.sender.reset()

	upcoming := deer.Broadcast{
		SourceID:            "b1",
		ChannelID:           1,
		TransmissionTime:    f.now.Add(time.Hour),
		TransmissionEndTime: f.now.Add(90 * time.Minute),
	}
	seriesRef := deer.SeriesRefOf(series)
	err := f.content.WriteBroadcast(context.Background(), deer.ItemRefOf(episode), ref(brand), &seriesRef, upcoming)
	require.NoError(t, err)

	stored := f.resolve(t, episode.ID).(*deer.Episode)
	require.Len(t, stored.Broadcasts, 1)
	assert.Equal(t, "b1", stored.Broadcasts[0].SourceID)

	for _, parent := range []deer.Id{brand.ID, series.ID} {
		row := f.row(t, deer.TableContent, parent)
		assert.True(t, row.Has(deer.PrefixUpcoming+episode.ID.String()), "parent %s", parent)
	}
	storedBrand := f.resolve(t, brand.ID).(*deer.Brand)
	require.Len(t, storedBrand.UpcomingContent[episode.ID], 1)
	assert.Equal(t, upcoming.Ref(), storedBrand.UpcomingContent[episode.ID][0])

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, episode.ID, msgs[0].msg.(*deer.ResourceUpdatedMessage).Updated.ID)

	t.Run("a past broadcast clears upcoming refs", func(t *testing.T) {
		replaced := upcoming
		replaced.TransmissionTime = f.now.Add(-2 * time.Hour)
		replaced.TransmissionEndTime = f.now.Add(-time.Hour)
		require.NoError(t, f.content.WriteBroadcast(context.Background(), deer.ItemRefOf(episode), ref(brand), &seriesRef, replaced))

		row := f.row(t, deer.TableContent, brand.ID)
		assert.False(t, row.Has(deer.PrefixUpcoming+episode.ID.String()))
		stored := f.resolve(t, episode.ID).(*deer.Episode)
		require.Len(t, stored.Broadcasts, 1)
		assert.Equal(t, replaced.TransmissionEndTime, stored.Broadcasts[0].TransmissionEndTime)
	})
}

func TestWriteBroadcast_UnlistableItemClearsUpcoming(t *testing.T) {
	f := newFixture(t)
	brand := newBrand("Brand")
	f.write(t, brand)
	item := newItem("Placeholder", brand)
	item.GenericDescription = true
	f.write(t, item)

	stale := deer.NewBatch().Put(deer.TableContent, brand.ID.String(), deer.PrefixUpcoming+item.ID.String(), []byte(`[]`))
	require.NoError(t, f.storage.Execute(context.Background(), stale, deer.ConsistencyStrong))

	b := deer.Broadcast{SourceID: "b2", ChannelID: 3, TransmissionTime: f.now.Add(time.Hour), TransmissionEndTime: f.now.Add(2 * time.Hour)}
	require.NoError(t, f.content.WriteBroadcast(context.Background(), deer.ItemRefOf(item), ref(brand), nil, b))

	row := f.row(t, deer.TableContent, brand.ID)
	assert.False(t, row.Has(deer.PrefixUpcoming+item.ID.String()))
	assert.Len(t, f.resolve(t, item.ID).(*deer.Item).Broadcasts, 1)
}

func TestWriteBroadcast_MissingItem(t *testing.T) {
	f := newFixture(t)
	item := deer.ItemRef{ContentRef: deer.ContentRef{ID: 42, Source: "bbc.co.uk", Type: deer.ContentTypeItem}}

	err := f.content.WriteBroadcast(context.Background(), item, nil, nil, deer.Broadcast{SourceID: "b"})
	var missing *deer.MissingResourceError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, deer.Id(42), missing.ID)
	assert.Equal(t, deer.ContentTypeItem, missing.Type)
	assert.Empty(t, f.sender.messages())
	assert.Equal(t, 0, f.storage.Len(deer.TableContent))
}

type failingStorage struct {
	deer.Storage
	err error
}

func (s *failingStorage) Execute(ctx context.Context, batch *deer.Batch, consistency deer.Consistency) error {
	return s.err
}

func TestWriteBroadcast_StorageFailure(t *testing.T) {
	f := newFixture(t)
	film := newFilm("pa", "Up")
	f.write(t, film)
	f.sender.reset()

	boom := errors.New("disk full")
	f.build(t, &failingStorage{Storage: f.storage, err: boom})

	err := f.content.WriteBroadcast(context.Background(), deer.ItemRefOf(film), nil, nil, deer.Broadcast{SourceID: "b"})
	var writeErr *deer.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "write_broadcast", writeErr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.sender.messages())
}
