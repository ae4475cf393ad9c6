package notify

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
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var hello Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, MessageTypeConnected, hello.EventType)
	return conn
}

func TestBroadcasterDeliversFullReloadToEveryClient(t *testing.T) {
	broadcaster := NewBroadcaster(context.Background(), Options{HistorySize: 4})
	defer broadcaster.Close()
	srv := httptest.NewServer(broadcaster)
	defer srv.Close()

	first := dial(t, srv)
	second := dial(t, srv)
	require.Eventually(t, func() bool { return broadcaster.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	broadcaster.FullReload()

	for _, conn := range []*websocket.Conn{first, second} {
		var message Message
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		require.NoError(t, conn.ReadJSON(&message))
		assert.Equal(t, MessageTypeFullReload, message.EventType)
		assert.False(t, message.OccurredAt.IsZero())
	}
	assert.Equal(t, int64(1), broadcaster.Sent())
	assert.Len(t, broadcaster.History(), 1)
}

func TestBroadcasterClientDisconnectDecrementsCount(t *testing.T) {
	broadcaster := NewBroadcaster(context.Background(), Options{})
	defer broadcaster.Close()
	srv := httptest.NewServer(broadcaster)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return broadcaster.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return broadcaster.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroadcasterCloseSendsGoingAway(t *testing.T) {
	broadcaster := NewBroadcaster(context.Background(), Options{})
	srv := httptest.NewServer(broadcaster)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return broadcaster.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	broadcaster.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{name: "no origin", host: "localhost:7777", want: true},
		{name: "same host other port", origin: "http://localhost:5173", host: "localhost:7777", want: true},
		{name: "other host", origin: "http://evil.test", host: "localhost:7777", want: false},
		{name: "wildcard", origin: "http://evil.test", host: "localhost:7777", allowed: []string{"*"}, want: true},
		{name: "listed", origin: "http://app.test:3000", host: "localhost", allowed: []string{"app.test"}, want: true},
		{name: "not listed", origin: "http://localhost:3000", host: "localhost", allowed: []string{"app.test"}, want: false},
		{name: "ipv6 host", origin: "http://[::1]:5173", host: "[::1]:7777", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/__reload", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, isOriginAllowed(r, tt.allowed))
		})
	}
}
