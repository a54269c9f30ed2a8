package relay

import (
	"crypto/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xatrelay/xatrelay/internal/metrics"
)

// Uppercase keeps the codes easy to read out loud when sharing a room.
const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	defaultRoomIDLength = 4
	// maxIDRetries bounds regeneration on collision before falling back to a
	// longer identifier.
	maxIDRetries = 100
)

// Options tune registry behavior. The zero value keeps the original
// semantics: unbounded history, four-character room codes.
type Options struct {
	// HistoryLimit caps each room's retained log; 0 means unbounded.
	HistoryLimit int
	// RoomIDLength is the length of generated room identifiers.
	RoomIDLength int
}

// Registry owns the process-wide mapping from room identifier to room state.
// It is constructed once at startup and handed to every session; there are no
// ambient globals. Entries are added on demand and never removed.
type Registry struct {
	logger zerolog.Logger
	opts   Options

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry returns an empty registry.
func NewRegistry(logger zerolog.Logger, opts Options) *Registry {
	if opts.RoomIDLength <= 0 {
		opts.RoomIDLength = defaultRoomIDLength
	}
	return &Registry{
		logger: logger,
		opts:   opts,
		rooms:  make(map[string]*Room),
	}
}

// EnsureRoom returns the room with the given identifier, creating it if
// needed. A known id returns the existing room unchanged. An unknown id is
// recreated with that exact identifier, so a stale or bookmarked reference
// lands in a fresh room rather than an error. An empty id generates a new
// identifier. EnsureRoom never fails.
func (reg *Registry) EnsureRoom(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if id != "" {
		if room, ok := reg.rooms[id]; ok {
			return room
		}
		reg.logger.Info().Str("room", id).Msg("recreating room for unknown identifier")
		return reg.createLocked(id)
	}

	id = reg.generateIDLocked()
	reg.logger.Info().Str("room", id).Msg("creating room")
	return reg.createLocked(id)
}

// GetRoom is a pure lookup; it returns nil when the identifier is unknown.
func (reg *Registry) GetRoom(id string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[id]
}

// RoomCount reports how many rooms currently exist.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

func (reg *Registry) createLocked(id string) *Room {
	room := newRoom(id, reg.opts.HistoryLimit, reg.logger)
	reg.rooms[id] = room
	metrics.RoomsCreated.Inc()
	return room
}

// generateIDLocked produces a fresh identifier not present in the registry.
// Collisions regenerate up to maxIDRetries; past that, one extra character
// makes a further collision practically impossible.
func (reg *Registry) generateIDLocked() string {
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		id := randomRoomID(reg.opts.RoomIDLength)
		if _, taken := reg.rooms[id]; !taken {
			return id
		}
	}
	reg.logger.Warn().
		Int("rooms", len(reg.rooms)).
		Msg("room id space saturated, falling back to a longer identifier")
	return randomRoomID(reg.opts.RoomIDLength + 1)
}

func randomRoomID(length int) string {
	buf := make([]byte, length)
	// crypto/rand.Read only fails if the platform source is broken.
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = roomIDAlphabet[int(b)%len(roomIDAlphabet)]
	}
	return string(buf)
}
