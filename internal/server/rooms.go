// Package server caches conversation rosters and tracks which connections
// are subscribed to each conversation via the Rooms type.
package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeus75017/anogram-server/internal/store"
)

type room struct {
	roster      map[string]string
	loaded      bool
	subscribers map[*Client]struct{}
}

func newRoom() *room {
	return &room{subscribers: make(map[*Client]struct{})}
}

// Rooms is the membership index over conversations. Rosters are loaded from
// the store on first access and cached until invalidated; subscriptions
// track which live connections joined each conversation.
type Rooms struct {
	mu    sync.RWMutex
	store store.Store
	rooms map[string]*room
}

// NewRooms creates an empty membership index backed by st.
func NewRooms(st store.Store) *Rooms {
	return &Rooms{
		store: st,
		rooms: make(map[string]*room),
	}
}

// roster returns the cached userID->role map for a conversation, loading it
// from the store if needed. Loaded rosters are treated as immutable;
// Invalidate swaps them out rather than mutating in place.
func (rm *Rooms) roster(ctx context.Context, conversationID string) (map[string]string, error) {
	rm.mu.RLock()
	cached, ok := rm.rooms[conversationID]
	if ok && cached.loaded {
		roster := cached.roster
		rm.mu.RUnlock()
		return roster, nil
	}
	rm.mu.RUnlock()

	members, err := rm.store.LoadMembers(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading members of %s: %w", conversationID, err)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	cached, ok = rm.rooms[conversationID]
	if !ok {
		cached = newRoom()
		rm.rooms[conversationID] = cached
	}
	if !cached.loaded {
		cached.roster = members
		cached.loaded = true
	}
	return cached.roster, nil
}

// Join subscribes a connection to a conversation after checking membership.
// Non-members are rejected without being subscribed.
func (rm *Rooms) Join(ctx context.Context, client *Client, conversationID string) error {
	roster, err := rm.roster(ctx, conversationID)
	if err != nil {
		return err
	}
	if _, ok := roster[client.userID]; !ok {
		return permissionError("not a member of this conversation")
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	cached, ok := rm.rooms[conversationID]
	if !ok {
		cached = newRoom()
		rm.rooms[conversationID] = cached
	}
	cached.subscribers[client] = struct{}{}
	return nil
}

// Leave drops the connection from every conversation it subscribed to.
func (rm *Rooms) Leave(client *Client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for _, cached := range rm.rooms {
		delete(cached.subscribers, client)
	}
}

// MembersOf returns the user ids of a conversation's members.
func (rm *Rooms) MembersOf(ctx context.Context, conversationID string) ([]string, error) {
	roster, err := rm.roster(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(roster))
	for userID := range roster {
		members = append(members, userID)
	}
	return members, nil
}

// RoleOf returns the role a user holds in a conversation, or the empty
// string for non-members.
func (rm *Rooms) RoleOf(ctx context.Context, conversationID, userID string) (string, error) {
	roster, err := rm.roster(ctx, conversationID)
	if err != nil {
		return "", err
	}
	return roster[userID], nil
}

// Subscribers returns a snapshot of the connections subscribed to a
// conversation.
func (rm *Rooms) Subscribers(conversationID string) []*Client {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	cached, ok := rm.rooms[conversationID]
	if !ok {
		return nil
	}
	clients := make([]*Client, 0, len(cached.subscribers))
	for client := range cached.subscribers {
		clients = append(clients, client)
	}
	return clients
}

// Invalidate drops the cached roster for a conversation so the next access
// reloads it from the store. Callers mutating membership outside the engine
// must invalidate the affected conversation. Subscriptions survive; stale
// subscribers fall out of delivery once the reloaded roster excludes them.
func (rm *Rooms) Invalidate(conversationID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if cached, ok := rm.rooms[conversationID]; ok {
		cached.roster = nil
		cached.loaded = false
	}
}
