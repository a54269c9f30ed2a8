package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xatrelay/xatrelay/internal/metrics"
)

// Session is the per-connection state machine. It starts unsubscribed, moves
// to subscribed on a join frame, and back on leave or close. A connection is
// subscribed to at most one room at a time: joining a new room implicitly
// unsubscribes the previous one, silently. Only explicit leave frames
// announce a departure to the room.
type Session struct {
	registry *Registry
	sub      Subscriber
	logger   zerolog.Logger

	mu     sync.Mutex
	roomID string // "" while unsubscribed
}

// NewSession binds a subscriber handle to the registry. One session per
// connection.
func NewSession(registry *Registry, sub Subscriber, logger zerolog.Logger) *Session {
	return &Session{
		registry: registry,
		sub:      sub,
		logger:   logger,
	}
}

// RoomID returns the identifier of the currently subscribed room, or "" when
// unsubscribed.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// HandleFrame decodes and processes one inbound payload. It never returns an
// error: the relay tolerates any single bad frame, so malformed input is
// counted and dropped while the connection stays open.
func (s *Session) HandleFrame(payload []byte) {
	frame := DecodeFrame(payload)

	switch frame.Kind {
	case FrameJoin:
		s.handleJoin(frame)
	case FrameLeave:
		s.handleLeave(frame)
	case FrameChat:
		s.handleChat(frame)
	case FrameMalformed:
		metrics.FramesMalformed.Inc()
		s.logger.Debug().Msg("dropping malformed frame")
	}
}

// Close deterministically unregisters the connection from any room it is
// subscribed to. Called by the transport when the connection ends, so future
// broadcasts never target a dead handle. No notice is broadcast; only
// explicit leave frames announce themselves.
func (s *Session) Close() {
	s.mu.Lock()
	roomID := s.roomID
	s.roomID = ""
	s.mu.Unlock()

	if roomID == "" {
		return
	}
	if room := s.registry.GetRoom(roomID); room != nil {
		room.Unsubscribe(s.sub)
	}
}

func (s *Session) handleJoin(frame Frame) {
	room := s.registry.EnsureRoom(frame.RoomID)

	s.mu.Lock()
	previous := s.roomID
	s.roomID = room.ID()
	s.mu.Unlock()

	if previous != "" && previous != room.ID() {
		if prevRoom := s.registry.GetRoom(previous); prevRoom != nil {
			prevRoom.Unsubscribe(s.sub)
		}
	}

	room.Join(s.sub)
	room.Publish(systemNotice(frame.Sender, "joined the room"))
	s.logger.Info().
		Str("room", room.ID()).
		Str("sender", frame.Sender).
		Msg("joined room")
}

func (s *Session) handleLeave(frame Frame) {
	s.mu.Lock()
	if s.roomID == frame.RoomID {
		s.roomID = ""
	}
	s.mu.Unlock()

	// Unknown room: nothing to unsubscribe from, nothing to announce.
	room := s.registry.GetRoom(frame.RoomID)
	if room == nil {
		return
	}

	room.Unsubscribe(s.sub)
	room.Publish(systemNotice(frame.Sender, "left the room"))
	s.logger.Info().
		Str("room", frame.RoomID).
		Str("sender", frame.Sender).
		Msg("left room")
}

func (s *Session) handleChat(frame Frame) {
	// Blank after sanitization: drop without storage or broadcast.
	if isBlank(frame.Message.Body) {
		return
	}

	// Chat to an unknown room is a no-op, unlike join which creates.
	room := s.registry.GetRoom(frame.RoomID)
	if room == nil {
		return
	}

	msg := frame.Message
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	room.Publish(msg)
}
