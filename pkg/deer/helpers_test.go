package deer_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/codec"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/repo/memory"
)

type sentMessage struct {
	msg deer.Message
	key []byte
}

// recordingSender keeps every message it is asked to send.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingSender) SendMessage(ctx context.Context, msg deer.Message, key []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{msg: msg, key: key})
	return r.err
}

func (r *recordingSender) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

func (r *recordingSender) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// updated returns the partition key of each ResourceUpdatedMessage by id.
func (r *recordingSender) updated() map[deer.Id][]byte {
	out := make(map[deer.Id][]byte)
	for _, m := range r.messages() {
		if u, ok := m.msg.(*deer.ResourceUpdatedMessage); ok {
			out[u.Updated.ID] = m.key
		}
	}
	return out
}

func (r *recordingSender) count(kind string) int {
	n := 0
	for _, m := range r.messages() {
		if m.msg.Kind() == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	storage     *memory.Storage
	sender      *recordingSender
	lock        *deer.GroupLock[deer.Id]
	graphs      *deer.GraphStore
	content     *deer.ContentStore
	equivalents *deer.EquivalentContentStore
	now         time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...deer.Option) *fixture {
	t.Helper()
	f := &fixture{
		storage: memory.New(),
		sender:  &recordingSender{},
		lock:    deer.NewGroupLock[deer.Id](),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	return f.build(t, f.storage, opts...)
}

func (f *fixture) build(t *testing.T, storage deer.Storage, opts ...deer.Option) *fixture {
	t.Helper()
	common := []deer.Option{
		deer.WithStorage(storage),
		deer.WithMarshaller(codec.New()),
		deer.WithMessageSender(f.sender),
		deer.WithClock(func() time.Time { return f.now }),
		deer.WithLogger(discardLogger()),
		deer.WithGroupLock(f.lock),
	}
	common = append(common, opts...)

	var err error
	f.graphs, err = deer.NewGraphStore(common...)
	require.NoError(t, err)

	common = append(common, deer.WithGraphStore(f.graphs))
	f.content, err = deer.NewContentStore(append(common, deer.WithIDGenerator(memory.NewIDGenerator(0)))...)
	require.NoError(t, err)
	f.equivalents, err = deer.NewEquivalentContentStore(append(common, deer.WithContentResolver(f.content))...)
	require.NoError(t, err)
	return f
}

func (f *fixture) write(t *testing.T, content deer.Content) deer.WriteResult[deer.Content] {
	t.Helper()
	result, err := f.content.WriteContent(context.Background(), content)
	require.NoError(t, err)
	return result
}

func (f *fixture) resolve(t *testing.T, id deer.Id) deer.Content {
	t.Helper()
	resolved, err := f.content.ResolveIDs(context.Background(), []deer.Id{id})
	require.NoError(t, err)
	content, ok := resolved[id]
	require.True(t, ok, "content %s not found", id)
	return content
}

func (f *fixture) row(t *testing.T, table deer.Table, key deer.Id) deer.Columns {
	t.Helper()
	rows, err := f.storage.Read(context.Background(), table, []string{key.String()}, deer.ConsistencyStrong)
	require.NoError(t, err)
	return rows[key.String()]
}

func ref(c deer.Content) *deer.ContentRef {
	r := deer.RefOf(c)
	return &r
}

func newBrand(title string) *deer.Brand {
	b := &deer.Brand{}
	b.Source = "bbc.co.uk"
	b.Title = title
	return b
}

func newSeries(title string, number int, brand *deer.Brand) *deer.Series {
	s := &deer.Series{SeriesNumber: number}
	s.Source = "bbc.co.uk"
	s.Title = title
	if brand != nil {
		s.BrandRef = ref(brand)
	}
	return s
}

func newItem(title string, container deer.Content) *deer.Item {
	i := &deer.Item{}
	i.Source = "bbc.co.uk"
	i.Title = title
	if container != nil {
		i.ContainerRef = ref(container)
	}
	return i
}

func newEpisode(title string, number int, container deer.Content, series *deer.Series) *deer.Episode {
	e := &deer.Episode{EpisodeNumber: number}
	e.Source = "bbc.co.uk"
	e.Title = title
	if container != nil {
		e.ContainerRef = ref(container)
	}
	if series != nil {
		sr := deer.SeriesRefOf(series)
		e.SeriesRef = &sr
	}
	return e
}

func newFilm(source deer.Publisher, title string) *deer.Film {
	f := &deer.Film{}
	f.Source = source
	f.Title = title
	return f
}
