package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

func startHub(t *testing.T, cfg HubConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, header http.Header) *websocket.Conn {
	t.Helper()
	before := hub.GetStats().TotalConnections
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool {
		return hub.GetStats().TotalConnections > before
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestBroadcastDetection(t *testing.T) {
	hub, url := startHub(t, HubConfig{BroadcastDetections: true})
	conn := dial(t, hub, url, nil)

	hub.BroadcastEvent(Event{
		Type: EventTypeDetection,
		Data: DetectionEvent{
			RequestID:      "req-1",
			EntitiesByType: map[anonymizer.EntityType]int{anonymizer.EntityDNI: 1},
			TotalEntities:  1,
			Confidence:     0.95,
		},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got struct {
		Type EventType      `json:"type"`
		Data DetectionEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventTypeDetection, got.Type)
	assert.Equal(t, "req-1", got.Data.RequestID)
	assert.Equal(t, 1, got.Data.EntitiesByType[anonymizer.EntityDNI])
}

func TestDisabledEventsAreNotSent(t *testing.T) {
	hub, url := startHub(t, HubConfig{BroadcastBatches: true})
	conn := dial(t, hub, url, nil)

	hub.BroadcastEvent(Event{Type: EventTypeDetection, Data: DetectionEvent{RequestID: "hidden"}})
	hub.BroadcastEvent(Event{Type: EventTypeBatchCompleted, Data: BatchEvent{RunID: "run-1", Total: 3, Done: 3}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventTypeBatchCompleted, got.Type)
}

func TestSubscriptionFiltersEvents(t *testing.T) {
	hub, url := startHub(t, HubConfig{BroadcastBatches: true, BroadcastSystem: true})
	conn := dial(t, hub, url, nil)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe", Events: []EventType{EventTypeSystemStatus}}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))

	// The pong confirms the subscription was applied before broadcasting.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var pong Event
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, EventTypePong, pong.Type)

	hub.BroadcastEvent(Event{Type: EventTypeBatchProgress, Data: BatchEvent{RunID: "run-1"}})
	hub.BroadcastEvent(Event{Type: EventTypeSystemStatus, Data: SystemStatusEvent{Status: "healthy"}})

	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventTypeSystemStatus, got.Type)
}

func TestBasicAuth(t *testing.T) {
	hub, url := startHub(t, HubConfig{Username: "ops", Password: "secret"})

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, "http://example", nil)
	req.SetBasicAuth("ops", "secret")
	dial(t, hub, url, http.Header{"Authorization": req.Header["Authorization"]})
	assert.Equal(t, int64(1), hub.GetStats().ActiveConnections)
}
