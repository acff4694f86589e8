// Package server tracks which connections belong to which authenticated user
// via the Registry type.
package server

import "sync"

// Registry is the session index mapping a user id to the set of live
// connections authenticated as that user. A user may hold several
// connections at once, one per device.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]map[*Client]struct{}
}

// NewRegistry creates an empty session registry. Each Gateway owns its own
// instance; there is no process-wide registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]map[*Client]struct{}),
	}
}

// Register adds a connection under the client's user id and reports whether
// it is the user's first active connection.
func (r *Registry) Register(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		r.connections[client.userID] = set
	}
	set[client] = struct{}{}
	return len(set) == 1
}

// Unregister removes a connection and reports whether it was the user's last
// one. Unregistering a connection that is not present is a no-op.
func (r *Registry) Unregister(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[client.userID]
	if !ok {
		return false
	}
	if _, ok := set[client]; !ok {
		return false
	}
	delete(set, client)
	if len(set) == 0 {
		delete(r.connections, client.userID)
		return true
	}
	return false
}

// Resolve returns a snapshot of the active connections for a user. The
// returned slice is safe to iterate while other goroutines mutate the
// registry.
func (r *Registry) Resolve(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.connections[userID]
	if len(set) == 0 {
		return nil
	}
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	return clients
}

// IsOnline reports whether the user has at least one active connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connections[userID]) > 0
}

// ConnectionCount returns the total number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.connections {
		total += len(set)
	}
	return total
}
