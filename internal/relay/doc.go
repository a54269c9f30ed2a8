// Package relay implements the core of the xat message relay: the room
// registry, per-room message logs and subscriber sets, the broadcast
// mechanism, and the per-connection session state machine that interprets
// inbound protocol frames.
//
// The package is transport-agnostic. A connection appears here only as a
// Subscriber, an opaque handle that accepts encoded payloads; the websocket
// layer in internal/server adapts its clients to that interface.
package relay
