package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xatrelay/xatrelay/internal/config"
	"github.com/xatrelay/xatrelay/internal/relay"
)

// Server owns the transport-side state: configuration, the room registry,
// the connection hub, and the websocket upgrader. Everything is constructed
// once at startup and passed by handle; there are no package globals.
type Server struct {
	cfg      *config.Config
	registry *relay.Registry
	hub      *Hub
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New assembles a Server around the given registry. The caller is
// responsible for running the hub (see Hub.Run) and for serving Routes.
func New(cfg *config.Config, registry *relay.Registry, logger zerolog.Logger) *Server {
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	return &Server{
		cfg:      cfg,
		registry: registry,
		hub:      NewHub(logger),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

// Hub returns the connection hub for lifecycle coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Registry returns the room registry.
func (s *Server) Registry() *relay.Registry {
	return s.registry
}

// handleWebSocket upgrades the request and registers the new connection with
// the hub, which starts its pumps. An optional id query parameter pre-creates
// the referenced room so a stale or bookmarked link still lands somewhere;
// the actual subscription happens when the client sends its join frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if id := r.URL.Query().Get("id"); id != "" {
		s.registry.EnsureRoom(id)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, s.registry, s.cfg, r.RemoteAddr, s.logger)
	s.hub.register <- client
}

// handleHealth reports liveness and the current room count.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "xat relay is running. rooms=%d\n", s.registry.RoomCount())
}
