// Package notify delivers full-reload signals to browser clients over
// websockets.
package notify

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"linkreload/internal/event"
	"linkreload/internal/logging"

	"github.com/gorilla/websocket"
)

type Options struct {
	Logger         *logging.Logger
	AllowedOrigins []string
	// HistorySize keeps the last few messages for the status API.
	HistorySize int
}

// Broadcaster fans a reload signal out to every connected client. It is an
// http.Handler serving the client websocket endpoint.
type Broadcaster struct {
	bus            *event.Bus[Message]
	logger         *logging.Logger
	allowedOrigins []string
	clients        atomic.Int64
	sent           atomic.Int64
}

func NewBroadcaster(ctx context.Context, opts Options) *Broadcaster {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Broadcaster{
		bus: event.NewBus[Message](ctx, event.BusOptions{
			Name:                 "reload_clients",
			SubscriberBufferSize: 8,
			HistorySize:          opts.HistorySize,
		}),
		logger:         logger.With(map[string]string{"component": "notify"}),
		allowedOrigins: opts.AllowedOrigins,
	}
}

// FullReload asks every connected client to reload.
func (b *Broadcaster) FullReload() {
	if b == nil {
		return
	}
	b.sent.Add(1)
	b.bus.Publish(NewFullReload())
}

func (b *Broadcaster) ClientCount() int {
	if b == nil {
		return 0
	}
	return int(b.clients.Load())
}

// Sent reports how many reload signals have been broadcast.
func (b *Broadcaster) Sent() int64 {
	if b == nil {
		return 0
	}
	return b.sent.Load()
}

func (b *Broadcaster) History() []Message {
	if b == nil {
		return nil
	}
	return b.bus.DumpHistory()
}

func (b *Broadcaster) Close() {
	if b == nil {
		return
	}
	b.bus.Close()
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	output, cancel := b.bus.Subscribe()
	defer cancel()

	conn, err := upgradeWebSocket(w, r, b.allowedOrigins)
	if err != nil {
		logUpgradeError(b.logger, r, err)
		return
	}
	defer conn.Close()

	b.clients.Add(1)
	defer b.clients.Add(-1)
	b.logger.Debug("reload client connected", map[string]string{"remote_addr": r.RemoteAddr})

	if err := writeJSON(conn, Message{EventType: MessageTypeConnected, OccurredAt: time.Now().UTC()}); err != nil {
		return
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case message, ok := <-output:
			if !ok {
				writeClose(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if err := writeJSON(conn, message); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}
