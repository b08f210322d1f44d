package ws

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tarikulceo/marketrelay/internal/stream"
)

// errorFrame is sent back for malformed or unknown subscription requests.
type errorFrame struct {
	Error string `json:"error"`
}

// Server upgrades downstream connections and routes their subscription
// messages into the stream handler registry.
type Server struct {
	route    string
	hub      *Hub
	registry *stream.Registry
	upgrader websocket.Upgrader
}

// NewServer creates a websocket server broadcasting on one logical route.
func NewServer(hub *Hub, registry *stream.Registry, route string) *Server {
	return &Server{
		route:    route,
		hub:      hub,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the http handler for the stream endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleStream)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn)
	s.hub.Register(s.route, client)
	log.Info().
		Str("remote", r.RemoteAddr).
		Int("clients", s.hub.Count(s.route)).
		Msg("🔌 Client connected")

	defer func() {
		s.hub.Unregister(s.route, client)
		log.Info().
			Str("remote", r.RemoteAddr).
			Int("clients", s.hub.Count(s.route)).
			Msg("Client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg stream.SubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.send(errorFrame{Error: "malformed message: " + err.Error()})
			continue
		}

		req, err := stream.ParseRequest(msg)
		if err != nil {
			client.send(errorFrame{Error: err.Error()})
			continue
		}

		s.registry.Dispatch(req)
	}
}
