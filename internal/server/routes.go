// Package server wires HTTP handlers into a ServeMux for the Anogram
// realtime application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: the health check and the authenticated WebSocket endpoint.
func SetupRoutes(gw *Gateway) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", gw.WebSocketHandler)
	return mux
}
