package recorder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelqa/metrics"
	"sentinelqa/target"
)

func newTestServer(t *testing.T) (*HostStore, *Server, *httptest.Server) {
	t.Helper()
	store := openTestHostStore(t)
	srv := NewServer(context.Background(), store, &ServerOptions{Metrics: metrics.New()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return store, srv, ts
}

func TestKeyValueRoutes(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/kv?key=ui.tab")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/kv", "application/json", strings.NewReader(`{"key":"ui.tab","value":"actions"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/kv?key=ui.tab")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Data keyValue `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "actions", body.Data.Value)

	resp, err = http.Get(ts.URL + "/api/kv")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordingRoutes(t *testing.T) {
	ctx := context.Background()
	store, srv, ts := newTestServer(t)
	r := New("rec_1", target.NewResolver(nil), store, nil)
	srv.Register(r)

	resp, err := http.Post(ts.URL+"/recordings/rec_1/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, r.Recording())

	_, err = r.HandleEvent(ctx, RawEvent{Type: EventLoad, URL: "https://shop.test/"})
	require.NoError(t, err)

	resp, err = http.Get(ts.URL + "/recordings/rec_1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var view recordingView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.True(t, view.Recording.Active)
	assert.Len(t, view.Recording.Actions, 1)
	assert.Equal(t, "Navigate to https://shop.test/", view.Instruction)

	resp, err = http.Get(ts.URL + "/recordings")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list struct {
		Recordings []string `json:"recordings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, []string{"rec_1"}, list.Recordings)

	resp, err = http.Post(ts.URL+"/recordings/rec_2/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLiveResync(t *testing.T) {
	ctx := context.Background()
	store, _, ts := newTestServer(t)
	r := New("rec_1", target.NewResolver(nil), store, nil)
	require.NoError(t, r.Start(ctx))
	_, err := r.HandleEvent(ctx, RawEvent{Type: EventLoad, URL: "https://shop.test/"})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/recordings/rec_1/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg liveMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Len(t, msg.Snapshot.Recording.Actions, 1)

	_, err = r.HandleEvent(ctx, event(EventClick, "form > button", ""))
	require.NoError(t, err)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "change", msg.Type)
	require.NotNil(t, msg.Change)
	assert.Equal(t, ChangeAction, msg.Change.Kind)
	assert.Equal(t, 2, msg.Change.NumActions)
}

func TestMemoryNotifierFilters(t *testing.T) {
	ctx := context.Background()
	n := NewMemoryNotifier()
	all, cancelAll, err := n.Subscribe("")
	require.NoError(t, err)
	defer cancelAll()
	one, cancelOne, err := n.Subscribe("rec_1")
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, Change{Kind: ChangeRecording, RecordingID: "rec_2"}))
	require.NoError(t, n.Publish(ctx, Change{Kind: ChangeRecording, RecordingID: "rec_1"}))

	assert.Equal(t, "rec_2", (<-all).RecordingID)
	assert.Equal(t, "rec_1", (<-all).RecordingID)
	got := <-one
	assert.Equal(t, "rec_1", got.RecordingID)
	assert.False(t, got.At.IsZero())

	cancelOne()
	cancelOne()
	_, ok := <-one
	assert.False(t, ok)

	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Publish(ctx, Change{}), ErrNotifierClosed)
}

func TestHostStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/host.db"
	store, err := OpenHostStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "ui.open", "true"))
	r := New("rec_9", nil, store, nil)
	require.NoError(t, r.Start(ctx))
	_, err = r.HandleEvent(ctx, RawEvent{Type: EventLoad, URL: "https://shop.test/a"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenHostStore(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	v, err := reopened.Get("ui.open")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
	rec, err := reopened.LoadRecording("rec_9")
	require.NoError(t, err)
	assert.True(t, rec.Active)
	require.Len(t, rec.Actions, 1)

	empty, err := reopened.LoadRecording("unknown")
	require.NoError(t, err)
	assert.False(t, empty.Active)
	assert.Empty(t, empty.Actions)
}
