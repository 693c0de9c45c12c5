// Package ws fans progress events out to websocket observers.
package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// client pairs a connection with its write lock. The websocket library
// allows only one concurrent writer per connection, and broadcasts arrive
// on one goroutine per bus subscription.
type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks connected observers and broadcasts event payloads to them.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]*client
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
		log:     log,
	}
}

// Add registers a connection and starts its read loop; the read loop only
// exists to notice disconnects.
func (h *Hub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &client{conn: conn}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("observer connected", "clients", n)

	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, present := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()
	_ = conn.Close()
	if present {
		h.log.Info("observer disconnected", "clients", n)
	}
}

// Broadcast sends one event payload to every connected observer. Each
// connection's writes are serialized, so broadcasts may run concurrently.
// Broken connections are dropped rather than blocking the rest.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.log.Warn("observer write failed, dropping", "err", err)
			h.remove(c.conn)
		}
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
