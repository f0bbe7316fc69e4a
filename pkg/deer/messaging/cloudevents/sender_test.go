package cloudevents_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/messaging/cloudevents"
)

type received struct {
	header http.Header
	body   []byte
}

func newReceiver(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()
	var mu sync.Mutex
	var got []received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func updatedMessage() *deer.ResourceUpdatedMessage {
	return &deer.ResourceUpdatedMessage{
		MessageHeader: deer.MessageHeader{ID: "msg-1", Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		Updated:       deer.ContentRef{ID: 42, Source: "bbc.co.uk", Type: deer.ContentTypeEpisode},
	}
}

func TestSender_SendMessage(t *testing.T) {
	srv, requests := newReceiver(t, http.StatusAccepted)
	sender, err := cloudevents.New(srv.URL, "")
	require.NoError(t, err)

	require.NoError(t, sender.SendMessage(context.Background(), updatedMessage(), deer.PartitionKey(7)))

	got := requests()
	require.Len(t, got, 1)
	h := got[0].header
	assert.Equal(t, "msg-1", h.Get("Ce-Id"))
	assert.Equal(t, deer.KindResourceUpdated, h.Get("Ce-Type"))
	assert.Equal(t, cloudevents.DefaultSource, h.Get("Ce-Source"))
	assert.Equal(t, "0000000000000007", h.Get("Ce-Partitionkey"))

	var body struct {
		ID      string          `json:"message_id"`
		Updated deer.ContentRef `json:"updated_resource"`
	}
	require.NoError(t, json.Unmarshal(got[0].body, &body))
	assert.Equal(t, "msg-1", body.ID)
	assert.Equal(t, deer.Id(42), body.Updated.ID)
}

func TestSender_Rejected(t *testing.T) {
	srv, _ := newReceiver(t, http.StatusInternalServerError)
	sender, err := cloudevents.New(srv.URL, "deer-test")
	require.NoError(t, err)

	err = sender.SendMessage(context.Background(), updatedMessage(), deer.PartitionKey(7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "msg-1")
}

func TestSender_Event(t *testing.T) {
	sender, err := cloudevents.New("http://unused", "deer-test")
	require.NoError(t, err)

	update := deer.EquivalenceGraphUpdate{Updated: deer.NewEquivalenceGraph(3, 3, 4)}
	msg := &deer.EquivalenceGraphUpdateMessage{MessageHeader: deer.MessageHeader{ID: "m"}, Update: update}
	event, err := sender.Event(msg, deer.PartitionKey(3))
	require.NoError(t, err)

	assert.Equal(t, deer.KindEquivalenceGraphUpdated, event.Type())
	assert.Equal(t, "deer-test", event.Source())
	assert.Equal(t, "0000000000000003", event.Extensions()[cloudevents.PartitionKeyExtension])
	assert.NoError(t, event.Validate())
}

func TestNew_RequiresTarget(t *testing.T) {
	_, err := cloudevents.New("", "")
	assert.Error(t, err)
}
