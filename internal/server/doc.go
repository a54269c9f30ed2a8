// Package server implements the websocket transport for the xat relay.
//
// It upgrades HTTP requests to websocket connections, runs the per-connection
// read/write pumps, and hands decoded traffic to the relay core. The
// implementation is organized into specialized files for the hub, clients,
// routing, origin control, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows.
package server
