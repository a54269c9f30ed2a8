// Package metrics exposes Prometheus instrumentation for the relay: connection
// counts, room and broadcast activity, and HTTP request totals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks currently registered websocket connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xat_connections_active",
			Help: "Currently connected websocket clients",
		},
	)

	// RoomsCreated counts rooms created by the registry, including rooms
	// recreated from stale identifiers.
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xat_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	// MessagesBroadcast counts messages accepted into a room log and fanned
	// out to its subscribers.
	MessagesBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xat_messages_broadcast_total",
			Help: "Total messages stored and broadcast",
		},
		[]string{"kind"}, // "chat" or "system"
	)

	// DeliveriesFailed counts per-subscriber delivery failures during fan-out.
	DeliveriesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xat_deliveries_failed_total",
			Help: "Total failed per-subscriber deliveries",
		},
	)

	// FramesMalformed counts inbound frames dropped by the decoder.
	FramesMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xat_frames_malformed_total",
			Help: "Total inbound frames dropped as malformed",
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
