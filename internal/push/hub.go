// Package push delivers events to connected clients over their websocket
// sessions. The hub is the concrete push channel keyed by session id; the
// dispatcher fans one event out to many sessions, best-effort.
package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the wire envelope for every outbound event.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

var (
	// ErrSessionGone reports a push to a session that is not connected here.
	ErrSessionGone = errors.New("push: session not connected")
	// ErrSendBufferFull reports a slow consumer whose outbound queue is full.
	ErrSendBufferFull = errors.New("push: send buffer full")
)

const (
	sendBufferSize = 64
	writeTimeout   = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks connected sessions and writes their outbound queues.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
	}
}

// Register attaches a connection under sid and starts its write pump.
func (h *Hub) Register(sid string, conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan Message, sendBufferSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[sid] = c
	h.mu.Unlock()
	go h.writePump(sid, c)
}

// Unregister detaches sid and stops its write pump. Safe to call twice.
func (h *Hub) Unregister(sid string) {
	h.mu.Lock()
	c, ok := h.clients[sid]
	if ok {
		delete(h.clients, sid)
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// Push enqueues one event for one session. Non-blocking: a full queue is a
// delivery failure for that recipient, never backpressure on the caller.
func (h *Hub) Push(ctx context.Context, sid, event string, payload any) error {
	h.mu.RLock()
	c, ok := h.clients[sid]
	h.mu.RUnlock()
	if !ok {
		return ErrSessionGone
	}

	select {
	case c.send <- Message{Event: event, Data: payload}:
		return nil
	case <-c.done:
		return ErrSessionGone
	default:
		return ErrSendBufferFull
	}
}

// Close disconnects every session. Used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sid, c := range h.clients {
		delete(h.clients, sid)
		c.close()
	}
}

func (h *Hub) writePump(sid string, c *client) {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", "sid", sid, "error", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
