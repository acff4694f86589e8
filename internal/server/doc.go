// Package server implements the realtime core of the Anogram messenger: the
// session registry, the room membership index, the rate limiter, the message
// pipeline, and the presence and call-signaling relay.
//
// The implementation is organized into specialized files for configuration,
// the gateway, clients, events, routing, and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server
