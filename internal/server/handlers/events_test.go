package handlers

import (
	"bufio"
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
	"go.uber.org/zap"

	"github.com/lodgepole/farmsight/pkg/events"
	"github.com/lodgepole/farmsight/pkg/farm"
	"github.com/lodgepole/farmsight/pkg/farm/mock"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
)

func newStreamRegistry(t *testing.T) *jobregistry.Registry {
	t.Helper()
	farms := farm.NewRegistry()
	require.NoError(t, farms.Register(mock.New(mock.Config{})))
	registry, err := jobregistry.New(jobregistry.Config{Farms: farms, PersistDelay: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })
	return registry
}

func submitStreamJob(t *testing.T, registry *jobregistry.Registry, scene string) *jobregistry.JobRecord {
	t.Helper()
	rec, err := registry.Submit(context.Background(), jobregistry.SubmissionRequest{
		Farm:   "mock",
		Scene:  scene,
		Frames: "1-10",
	})
	require.NoError(t, err)
	return rec
}

func readSSEFrame(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), "unexpected frame %q", line)
		return strings.TrimPrefix(line, "data: ")
	}
}

func TestEventStream_DeliversEvents(t *testing.T) {
	b := events.NewBroadcaster("jobs", 8, zap.NewNop())
	ts := httptest.NewServer(NewEventStream("jobs", b, time.Minute, zap.NewNop()))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond, "subscriber never attached")

	ev, err := events.New("job.created", map[string]string{"job_id": "rj-1"})
	require.NoError(t, err)
	b.Publish(ev)

	reader := bufio.NewReader(resp.Body)
	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(readSSEFrame(t, reader)), &got))
	assert.Equal(t, "job.created", got.Kind)
	assert.JSONEq(t, `{"job_id": "rj-1"}`, string(got.Data))
}

func TestEventStream_Keepalive(t *testing.T) {
	b := events.NewBroadcaster("jobs", 8, zap.NewNop())
	ts := httptest.NewServer(NewEventStream("jobs", b, 20*time.Millisecond, zap.NewNop()))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	// No events published; the idle heartbeat still arrives.
	frame := readSSEFrame(t, bufio.NewReader(resp.Body))
	assert.Equal(t, "{}", frame)
}

func TestEventStream_ReleasesSubscriptionOnDisconnect(t *testing.T) {
	b := events.NewBroadcaster("jobs", 8, zap.NewNop())
	ts := httptest.NewServer(NewEventStream("jobs", b, time.Minute, zap.NewNop()))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	resp.Body.Close()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 },
		time.Second, 10*time.Millisecond, "subscription not released")
}

func TestJobSocket_HandshakeSnapshotThenEvents(t *testing.T) {
	registry := newStreamRegistry(t)
	existing := submitStreamJob(t, registry, "shots/ep01/sc010.ma")

	ts := httptest.NewServer(NewJobSocket(registry, time.Minute, zap.NewNop()))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var hello struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello.Type)

	var snapshot struct {
		Type string                  `json:"type"`
		Jobs []jobregistry.JobRecord `json:"jobs"`
	}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	require.Len(t, snapshot.Jobs, 1)
	assert.Equal(t, existing.JobID, snapshot.Jobs[0].JobID)

	created := submitStreamJob(t, registry, "shots/ep01/sc020.ma")

	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, jobregistry.EventJobCreated, ev.Kind)

	var payload jobregistry.JobRecord
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, created.JobID, payload.JobID)
}

func TestJobSocket_ReleasesSubscriptionOnClose(t *testing.T) {
	registry := newStreamRegistry(t)
	broadcaster := registry.Events()

	ts := httptest.NewServer(NewJobSocket(registry, time.Minute, zap.NewNop()))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	require.Eventually(t, func() bool { return broadcaster.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second)))
	conn.Close()

	require.Eventually(t, func() bool { return broadcaster.SubscriberCount() == 0 },
		time.Second, 10*time.Millisecond, "subscription not released")
}
