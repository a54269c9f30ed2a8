package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xatrelay/xatrelay/internal/metrics"
)

// Hub tracks every live websocket connection for lifecycle purposes:
// registration, pump supervision, and graceful shutdown. Message fan-out does
// not go through the hub; rooms deliver directly to their subscribers.
type Hub struct {
	logger zerolog.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a hub ready to supervise connections. Run must be called in
// its own goroutine before clients are registered.
func NewHub(logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop, handling registration, unregistration, and
// shutdown. It runs until Shutdown cancels the hub's context.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn().Msg("skipping nil client registration")
				continue
			}
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			metrics.ConnectionsActive.Set(float64(count))
			h.logger.Info().
				Str("client", client.id).
				Str("addr", client.addr).
				Int("total", count).
				Msg("client registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; !ok {
				h.mutex.Unlock()
				continue
			}
			delete(h.clients, client)
			count := len(h.clients)
			h.mutex.Unlock()

			// Unsubscribe from the room before the send channel closes so
			// no broadcast targets a dead handle.
			client.session.Close()
			client.closeSend()
			metrics.ConnectionsActive.Set(float64(count))
			h.logger.Info().
				Str("client", client.id).
				Str("addr", client.addr).
				Int("total", count).
				Msg("client unregistered")
		}
	}
}

// closeClients closes every active connection during shutdown.
func (h *Hub) closeClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.session.Close()
		client.closeSend()
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn().Err(err).Str("client", client.id).Msg("error closing client connection")
			}
		}
	}
	h.logger.Info().Int("count", len(clients)).Msg("closed all client connections")
}

// Shutdown stops the event loop, closes all connections, and waits for the
// pump goroutines to finish or the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
