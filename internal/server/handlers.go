// Package server exposes the HTTP handlers: the authenticated WebSocket
// upgrade and the health check.
package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler handles WebSocket upgrade requests. The handshake
// credential is verified before the upgrade; a rejected credential produces
// HTTP 401 and no connection state is created. On success the connection is
// registered and its pumps are started.
func (gw *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	token := handshakeToken(r)
	if token == "" {
		http.Error(w, "Missing authentication token.", http.StatusUnauthorized)
		return
	}
	identity, err := gw.verifier.VerifyToken(token)
	if err != nil {
		log.Printf("Rejected WebSocket connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, "Invalid authentication token.", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, gw, identity.UserID, identity.Username, r.RemoteAddr)
	gw.registerClient(client)
}

// handshakeToken extracts the credential from the token query parameter or
// the Authorization header.
func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Anogram realtime server is running!")
}
