// Package ws is the downstream surface: a gorilla/websocket endpoint that
// accepts subscription messages and a hub that fans broadcast frames out to
// every connection on a route.
package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tarikulceo/marketrelay/internal/stream"
)

// Client is one downstream connection. Writes are serialized through a mutex
// because broadcasts and error replies come from different goroutines.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewClient wraps a websocket connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Hub groups client connections by logical route and delivers broadcast
// frames to everyone on a route.
type Hub struct {
	mu     sync.RWMutex
	routes map[string]map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{routes: make(map[string]map[*Client]bool)}
}

// Register adds a connection to a route.
func (h *Hub) Register(route string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.routes[route] == nil {
		h.routes[route] = make(map[*Client]bool)
	}
	h.routes[route][c] = true
}

// Unregister removes a connection from a route and closes it.
func (h *Hub) Unregister(route string, c *Client) {
	h.mu.Lock()
	if clients, ok := h.routes[route]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.routes, route)
		}
	}
	h.mu.Unlock()
	c.close()
}

// HasSubscribers reports whether anyone is still listening on a route. Pull
// loops use this as their termination guard.
func (h *Hub) HasSubscribers(route string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.routes[route]) > 0
}

// Broadcast delivers one envelope to every connection on the route. Dead
// connections are evicted as they fail.
func (h *Hub) Broadcast(route string, envelope stream.Envelope) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.routes[route]))
	for c := range h.routes[route] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(envelope); err != nil {
			log.Debug().Err(err).Str("route", route).Msg("Broadcast write failed, evicting client")
			h.Unregister(route, c)
		}
	}
}

// Count returns the number of connections on a route.
func (h *Hub) Count(route string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.routes[route])
}
