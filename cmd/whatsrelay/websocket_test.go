package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whatsrelay/internal/models"
	"whatsrelay/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireEvent struct {
	Type      service.EventType `json:"type"`
	Data      json.RawMessage   `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

func dialEvents(t *testing.T, f *serverFixture) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(f.server.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) wireEvent {
	t.Helper()
	var event wireEvent
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	return event
}

func TestWebSocket_SnapshotThenEvents(t *testing.T) {
	f := newServerFixture(t, nil)
	f.do(t, http.MethodPost, "/api/forward", []byte(`{"text":"queued"}`), nil)

	conn, ctx := dialEvents(t, f)

	first := readEvent(t, ctx, conn)
	assert.Equal(t, service.EventStatusUpdate, first.Type)
	var snap models.StatusSnapshot
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	assert.False(t, snap.TransportReady)
	assert.Equal(t, 1, snap.PendingCount)

	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	disabled := false
	_, err := f.engine.ReplaceConfig(context.Background(), models.ConfigPatch{Enabled: &disabled})
	require.NoError(t, err)

	next := readEvent(t, ctx, conn)
	assert.Equal(t, service.EventConfigUpdated, next.Type)
	var cfg models.ForwardingConfig
	require.NoError(t, json.Unmarshal(next.Data, &cfg))
	assert.False(t, cfg.Enabled)
	assert.False(t, next.Timestamp.IsZero())
}

func TestWebSocket_ForwardedMessageEvent(t *testing.T) {
	f := newServerFixture(t, nil)
	f.makeReady(t, testDestA)

	conn, ctx := dialEvents(t, f)
	assert.Equal(t, service.EventStatusUpdate, readEvent(t, ctx, conn).Type)
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	w := f.do(t, http.MethodPost, "/api/forward", []byte(`{"text":"live","channelName":"News"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)

	event := readEvent(t, ctx, conn)
	assert.Equal(t, service.EventMessageForwarded, event.Type)
	assert.Contains(t, string(event.Data), "live")
}

func TestWebSocket_ClientDisconnectDetaches(t *testing.T) {
	f := newServerFixture(t, nil)

	conn, ctx := dialEvents(t, f)
	readEvent(t, ctx, conn)
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	assert.Eventually(t, func() bool { return f.hub.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_HubCloseEndsStream(t *testing.T) {
	f := newServerFixture(t, nil)

	conn, ctx := dialEvents(t, f)
	readEvent(t, ctx, conn)
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	f.hub.Close()

	var event wireEvent
	err := wsjson.Read(ctx, conn, &event)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
