package bridge

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
)

func hubFixture(t *testing.T) (*Hub, *Registry, *websocket.Conn) {
	t.Helper()
	reg, _, _, _ := testRegistry(t, testConfig())
	hub := NewHub(reg, testLogger())
	reg.SetNotifier(hub)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hub.ServeWS(w, req, "msx_tv", "tv")
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.ConnectionCount("msx_tv") == 1 },
		time.Second, 5*time.Millisecond)
	return hub, reg, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var payload map[string]any
	require.NoError(t, conn.ReadJSON(&payload))
	return payload
}

func TestServeWSRegistersRenderer(t *testing.T) {
	_, reg, _ := hubFixture(t)
	_, ok := reg.Get("msx_tv")
	assert.True(t, ok)
}

func TestNotifyPlayPayload(t *testing.T) {
	hub, _, conn := hubFixture(t)

	hub.NotifyPlay("msx_tv", PlayEvent{
		Title:      "Song",
		Artist:     "Band",
		ImageURL:   "http://img",
		Duration:   200,
		NextAction: "request:interaction:/api/next/msx_tv",
		PrevAction: "request:interaction:/api/previous/msx_tv",
	})

	ev := readEvent(t, conn)
	assert.Equal(t, "play", ev["type"])
	assert.Equal(t, "/stream/msx_tv", ev["path"])
	assert.Equal(t, "Song", ev["title"])
	assert.Equal(t, "Band", ev["artist"])
	assert.Equal(t, float64(200), ev["duration"])
	assert.Equal(t, "request:interaction:/api/next/msx_tv", ev["next_action"])
}

func TestNotifyStopPayload(t *testing.T) {
	hub, _, conn := hubFixture(t)

	hub.NotifyStop("msx_tv", true)
	ev := readEvent(t, conn)
	assert.Equal(t, "stop", ev["type"])
	assert.Equal(t, true, ev["showNotification"])
}

func TestNotifyGotoIndexPayload(t *testing.T) {
	hub, _, conn := hubFixture(t)

	hub.NotifyGotoIndex("msx_tv", 3)
	ev := readEvent(t, conn)
	assert.Equal(t, "goto_index", ev["type"])
	assert.Equal(t, float64(3), ev["index"])
}

func TestInboundPositionReport(t *testing.T) {
	_, reg, conn := hubFixture(t)
	r, _ := reg.Get("msx_tv")
	r.PlayMedia(context.Background(), &Media{URI: "u"})

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "position", "position": 42.5}))

	require.Eventually(t, func() bool {
		return r.Elapsed() >= 42.5
	}, time.Second, 5*time.Millisecond)
}

func TestInboundPauseAndResume(t *testing.T) {
	_, reg, conn := hubFixture(t)
	r, _ := reg.Get("msx_tv")
	r.PlayMedia(context.Background(), &Media{URI: "u"})

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "pause", "position": 10.0}))
	require.Eventually(t, func() bool { return r.Phase() == PhasePaused },
		time.Second, 5*time.Millisecond)
	assert.InDelta(t, 10.0, r.Elapsed(), 0.001)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "resume"}))
	require.Eventually(t, func() bool { return r.Phase() == PhasePlaying },
		time.Second, 5*time.Millisecond)
}

func TestMalformedInboundIgnored(t *testing.T) {
	_, reg, conn := hubFixture(t)
	r, _ := reg.Get("msx_tv")
	r.PlayMedia(context.Background(), &Media{URI: "u"})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "mystery"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "position", "position": 5.0}))

	require.Eventually(t, func() bool { return r.Elapsed() >= 5.0 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, PhasePlaying, r.Phase())
}

func TestSendToDetachedRendererIsNoop(t *testing.T) {
	reg, _, _, _ := testRegistry(t, testConfig())
	hub := NewHub(reg, testLogger())
	// no connections attached; must not panic or block
	hub.NotifyPause("msx_ghost")
	hub.NotifyResume("msx_ghost")
	assert.Zero(t, hub.ConnectionCount("msx_ghost"))
}

func TestHandleInboundDispatch(t *testing.T) {
	reg, _, _, _ := testRegistry(t, testConfig())
	hub := NewHub(reg, testLogger())
	r := reg.GetOrRegister("msx_tv", "tv")
	r.PlayMedia(context.Background(), &Media{URI: "u"})

	raw, err := json.Marshal(map[string]any{"type": "position", "position": 33.0})
	require.NoError(t, err)
	hub.handleInbound(context.Background(), r, raw)
	assert.InDelta(t, 33.0, r.Elapsed(), 0.001)
}
