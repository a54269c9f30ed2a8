package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/xatrelay/xatrelay/internal/metrics"
)

// Subscriber is the opaque handle for one connection's delivery queue.
// Deliver must not block: it reports false when the payload could not be
// queued (closed or saturated connection), and the room drops the subscriber
// in response.
type Subscriber interface {
	Deliver(payload []byte) bool
}

// DeliveryReport summarizes one fan-out. Failures are observable here and in
// the logs but are never propagated to the publisher.
type DeliveryReport struct {
	Delivered int
	Failed    int
	Stored    bool
}

// Room is a named channel: an append-only ordered message log plus the set of
// currently subscribed connections. A single mutex guards both so that
// append+fan-out pairs are atomic with respect to each other and a concurrent
// join never observes a torn state. Rooms are independent; no lock is ever
// held across two rooms.
type Room struct {
	id     string
	logger zerolog.Logger

	mu          sync.Mutex
	messages    []Message
	subscribers map[Subscriber]struct{}

	// historyLimit caps retained messages; 0 keeps the log unbounded.
	historyLimit int
}

func newRoom(id string, historyLimit int, logger zerolog.Logger) *Room {
	return &Room{
		id:           id,
		logger:       logger.With().Str("room", id).Logger(),
		subscribers:  make(map[Subscriber]struct{}),
		historyLimit: historyLimit,
	}
}

// ID returns the room's identifier.
func (r *Room) ID() string {
	return r.id
}

// Join replays the room's current log into the subscriber's queue and then
// subscribes it, as one atomic step. Every message published before the join
// is replayed in arrival order; every message published after is delivered
// live; nothing is skipped or duplicated in between.
func (r *Room) Join(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range r.messages {
		payload, err := msg.Encode()
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to encode history message")
			continue
		}
		if !sub.Deliver(payload) {
			r.logger.Warn().Msg("subscriber queue filled during history replay")
			return
		}
	}
	r.subscribers[sub] = struct{}{}
}

// Unsubscribe removes the subscriber from the delivery set. Removing a
// subscriber that is not a member is a no-op.
func (r *Room) Unsubscribe(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, sub)
}

// Publish appends the message to the log and delivers it to every currently
// subscribed connection. Blank bodies are dropped before any mutation.
// Delivery is best-effort per subscriber: a failed delivery removes that
// subscriber and is reported, never raised to the caller. The log order seen
// by any subscriber matches the append order because both happen under the
// room lock.
func (r *Room) Publish(msg Message) DeliveryReport {
	if isBlank(msg.Body) {
		return DeliveryReport{}
	}

	payload, err := msg.Encode()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode message")
		return DeliveryReport{}
	}

	r.mu.Lock()
	r.messages = append(r.messages, msg)
	if r.historyLimit > 0 && len(r.messages) > r.historyLimit {
		r.messages = append([]Message(nil), r.messages[len(r.messages)-r.historyLimit:]...)
	}

	report := DeliveryReport{Stored: true}
	var failed []Subscriber
	for sub := range r.subscribers {
		if sub.Deliver(payload) {
			report.Delivered++
		} else {
			report.Failed++
			failed = append(failed, sub)
		}
	}
	for _, sub := range failed {
		delete(r.subscribers, sub)
	}
	r.mu.Unlock()

	kind := "chat"
	if msg.Sender == SystemSender {
		kind = "system"
	}
	metrics.MessagesBroadcast.WithLabelValues(kind).Inc()
	if report.Failed > 0 {
		metrics.DeliveriesFailed.Add(float64(report.Failed))
		r.logger.Warn().
			Int("failed", report.Failed).
			Int("delivered", report.Delivered).
			Msg("dropped unreachable subscribers during broadcast")
	}
	return report
}

// History returns a point-in-time copy of the room's log.
func (r *Room) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// SubscriberCount reports the current size of the delivery set.
func (r *Room) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}
