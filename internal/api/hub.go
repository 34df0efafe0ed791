// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/metrics"
	"github.com/H2WO4/project-m101/internal/store"
	"github.com/H2WO4/project-m101/internal/wallclock"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 8

	feedTypeJams = "jams"
)

type (
	// Hub pushes the current jams to every connected websocket client on a
	// fixed interval.
	Hub struct {
		detector Detector
		interval time.Duration
		upgrader websocket.Upgrader
		clock    wallclock.WallClock
		metrics  *metrics.Metrics
		log      log.Logger

		mu      sync.Mutex
		clients map[*client]struct{}
		closed  bool
	}

	client struct {
		hub  *Hub
		conn *websocket.Conn
		send chan []byte
	}

	feedMessage struct {
		Type string          `json:"type"`
		Data []store.Segment `json:"data"`
	}
)

func newHub(detector Detector, o Options) *Hub {
	return &Hub{
		detector: detector,
		interval: o.BroadcastInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clock:   o.Clock,
		metrics: o.Metrics,
		log:     log.Wrap(o.Logger),
		clients: map[*client]struct{}{},
	}
}

// ServeHTTP upgrades the request and registers the client. The client gets
// the current jams right away and then every interval.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		h.log.Warn(r.Context(), err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.add(c) {
		conn.Close()
		return
	}
	h.log.Debug(r.Context(), "websocket client connected",
		slog.String("remote", conn.RemoteAddr().String()),
	)

	go c.writePump()
	go c.readPump()

	msg, err := h.snapshot(r.Context())
	if err != nil {
		h.log.Warn(r.Context(), err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.deliver(c, msg)
	}
}

// Run broadcasts until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			if h.Len() == 0 {
				continue
			}
			msg, err := h.snapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					h.log.Warn(ctx, err)
				}
				continue
			}
			h.broadcast(msg)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) snapshot(ctx context.Context) ([]byte, error) {
	jams, err := h.detector.Jams(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(feedMessage{Type: feedTypeJams, Data: jams})
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.deliver(c, msg)
	}
}

// deliver queues msg for c, dropping clients that cannot keep up. Must be
// called with h.mu held.
func (h *Hub) deliver(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.log.Info(context.Background(), "dropping slow websocket client",
			slog.String("remote", c.conn.RemoteAddr().String()),
		)
		h.removeLocked(c)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.WebsocketClients(1)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.WebsocketClients(-1)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// readPump only services control frames; the feed is one-way.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				c.hub.log.Warn(context.Background(), err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := c.hub.clock.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
