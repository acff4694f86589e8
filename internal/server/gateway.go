// Package server coordinates connection registration, event dispatch, and
// fan-out for the Anogram realtime system via the Gateway type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/zeus75017/anogram-server/internal/auth"
	"github.com/zeus75017/anogram-server/internal/secure"
	"github.com/zeus75017/anogram-server/internal/store"
)

// Gateway owns the realtime state for one server instance: the session
// registry, the room membership index, the rate limiter, and the message
// pipeline. Instances are wired together at startup; nothing is
// process-wide.
type Gateway struct {
	registry *Registry
	rooms    *Rooms
	limiter  *RateLimiter
	pipeline *Pipeline
	store    store.Store
	verifier *auth.Verifier

	mutex   sync.RWMutex
	clients map[*Client]bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewGateway creates a Gateway backed by the given store, credential
// verifier, and content cipher. The returned Gateway is ready to accept
// connections once Start has been called.
func NewGateway(st store.Store, verifier *auth.Verifier, cipher *secure.Cipher) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := currentConfig()

	gw := &Gateway{
		registry: NewRegistry(),
		store:    st,
		verifier: verifier,
		clients:  make(map[*Client]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
	gw.rooms = NewRooms(st)
	gw.limiter = NewRateLimiter(cfg.RateLimit.Actions, cfg.RateLimit.Window)
	gw.pipeline = NewPipeline(st, cipher, gw.rooms, gw.limiter, gw)
	return gw
}

// Registry returns the gateway's session registry.
func (gw *Gateway) Registry() *Registry {
	return gw.registry
}

// Rooms returns the gateway's membership index.
func (gw *Gateway) Rooms() *Rooms {
	return gw.rooms
}

// Pipeline returns the gateway's message pipeline.
func (gw *Gateway) Pipeline() *Pipeline {
	return gw.pipeline
}

// Start launches the gateway's background maintenance goroutines.
func (gw *Gateway) Start() {
	gw.wg.Add(1)
	go func() {
		defer gw.wg.Done()
		gw.limiter.Run(gw.ctx)
	}()
}

// registerClient admits an authenticated connection: it is tracked for
// lifecycle management, indexed in the session registry, subscribed to every
// conversation its user belongs to, and its pumps are started. The user's
// first connection flips presence to online.
func (gw *Gateway) registerClient(client *Client) {
	gw.mutex.Lock()
	client.closed = false
	gw.clients[client] = true
	clientCount := len(gw.clients)
	gw.mutex.Unlock()

	first := gw.registry.Register(client)
	log.Printf("Client %s connected for user %s from %s. Total connections: %d",
		client.id, client.userID, client.addr, clientCount)

	conversationIDs, err := gw.store.ConversationIDsFor(gw.ctx, client.userID)
	if err != nil {
		log.Printf("Error loading conversations for user %s: %v", client.userID, err)
	}
	for _, conversationID := range conversationIDs {
		if err := gw.rooms.Join(gw.ctx, client, conversationID); err != nil {
			log.Printf("Error subscribing user %s to conversation %s: %v",
				client.userID, conversationID, err)
		}
	}

	if first {
		now := time.Now().UTC()
		if err := gw.store.UpsertUserStatus(gw.ctx, client.userID, "online", now); err != nil {
			log.Printf("Error marking user %s online: %v", client.userID, err)
		}
		gw.broadcastPresence(client.userID, "online", time.Time{})
	}

	gw.wg.Add(2)
	go func() {
		defer gw.wg.Done()
		client.writePump()
	}()
	go func() {
		defer gw.wg.Done()
		client.readPump()
	}()
}

// unregisterClient removes a connection. It is idempotent; the pumps and the
// fan-out failure path may both call it for the same client. The user's last
// connection flips presence to offline with a last-seen timestamp.
func (gw *Gateway) unregisterClient(client *Client) {
	gw.mutex.Lock()
	if _, ok := gw.clients[client]; !ok {
		gw.mutex.Unlock()
		return
	}
	delete(gw.clients, client)
	client.closed = true
	clientCount := len(gw.clients)
	gw.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)

	gw.rooms.Leave(client)
	last := gw.registry.Unregister(client)
	log.Printf("Client %s disconnected for user %s. Total connections: %d",
		client.id, client.userID, clientCount)

	if last {
		now := time.Now().UTC()
		if err := gw.store.UpsertUserStatus(gw.ctx, client.userID, "offline", now); err != nil {
			log.Printf("Error marking user %s offline: %v", client.userID, err)
		}
		gw.broadcastPresence(client.userID, "offline", now)
	}
}

func (gw *Gateway) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	gw.mutex.RLock()
	defer gw.mutex.RUnlock()

	_, exists := gw.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// SendToClient delivers one event to a single connection. Connections whose
// send buffer is full are dropped rather than allowed to stall the caller.
func (gw *Gateway) SendToClient(client *Client, event string, data interface{}) {
	payload, err := NewEnvelope(event, data)
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return
	}
	if !gw.safeSend(client, payload) {
		gw.unregisterClient(client)
	}
}

// SendToUser delivers one event to every connection of a user.
func (gw *Gateway) SendToUser(userID, event string, data interface{}) {
	payload, err := NewEnvelope(event, data)
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return
	}
	gw.deliver(gw.registry.Resolve(userID), payload, "")
}

// BroadcastToConversation delivers one event to every connected member of a
// conversation, resolving members through the room index and their
// connections through the session registry.
func (gw *Gateway) BroadcastToConversation(conversationID, event string, data interface{}) {
	payload, err := NewEnvelope(event, data)
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return
	}

	memberIDs, err := gw.rooms.MembersOf(gw.ctx, conversationID)
	if err != nil {
		log.Printf("Error resolving members of conversation %s: %v", conversationID, err)
		return
	}
	for _, memberID := range memberIDs {
		gw.deliver(gw.registry.Resolve(memberID), payload, "")
	}
}

// relayToConversation delivers one event to the conversation's subscribed
// connections, skipping every connection of excludeUserID. Subscribers are
// checked against the current roster so connections whose user was removed
// stop receiving relays as soon as the roster is reloaded.
func (gw *Gateway) relayToConversation(conversationID, excludeUserID, event string, data interface{}) {
	payload, err := NewEnvelope(event, data)
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return
	}

	roster, err := gw.rooms.roster(gw.ctx, conversationID)
	if err != nil {
		log.Printf("Error resolving members of conversation %s: %v", conversationID, err)
		return
	}
	var targets []*Client
	for _, client := range gw.rooms.Subscribers(conversationID) {
		if _, member := roster[client.userID]; member {
			targets = append(targets, client)
		}
	}
	gw.deliver(targets, payload, excludeUserID)
}

// deliver pushes a payload to each target, dropping clients that fail to
// accept it.
func (gw *Gateway) deliver(targets []*Client, payload []byte, excludeUserID string) {
	var failed []*Client
	for _, client := range targets {
		if excludeUserID != "" && client.userID == excludeUserID {
			continue
		}
		if !gw.safeSend(client, payload) {
			failed = append(failed, client)
		}
	}
	for _, client := range failed {
		log.Printf("Client %s from %s removed due to full send buffer", client.id, client.addr)
		gw.unregisterClient(client)
	}
}

// dispatch decodes an inbound frame and routes it to the matching handler.
// Handler errors are echoed to the sender as error events; other members
// never see them.
func (gw *Gateway) dispatch(client *Client, rawEvent []byte) {
	var envelope Envelope
	if err := json.Unmarshal(rawEvent, &envelope); err != nil {
		log.Printf("Malformed event from %s: %v", client.addr, err)
		gw.sendError(client, "malformed event")
		return
	}

	var err error
	switch envelope.Event {
	case EventSendMessage:
		var payload SendMessagePayload
		if err = decodePayload(envelope.Data, &payload); err == nil {
			err = gw.pipeline.SendMessage(gw.ctx, client, payload)
		}
	case EventMarkRead:
		var payload ConversationPayload
		if err = decodePayload(envelope.Data, &payload); err == nil {
			err = gw.pipeline.MarkRead(gw.ctx, client, payload.ConversationID)
		}
	case EventTyping:
		var payload ConversationPayload
		if err = decodePayload(envelope.Data, &payload); err == nil {
			err = gw.handleTyping(client, payload.ConversationID, false)
		}
	case EventStopTyping:
		var payload ConversationPayload
		if err = decodePayload(envelope.Data, &payload); err == nil {
			err = gw.handleTyping(client, payload.ConversationID, true)
		}
	case EventJoinConversation:
		var payload ConversationPayload
		if err = decodePayload(envelope.Data, &payload); err == nil {
			err = gw.handleJoinConversation(client, payload.ConversationID)
		}
	case EventCallUser:
		var payload CallUserPayload
		if err = decodePayload(envelope.Data, &payload); err == nil {
			err = gw.handleCallUser(client, payload)
		}
	case EventAnswerCall:
		var payload AnswerCallPayload
		if err = decodePayload(envelope.Data, &payload); err == nil {
			err = gw.handleAnswerCall(client, payload)
		}
	case EventEndCall:
		var payload EndCallPayload
		if err = decodePayload(envelope.Data, &payload); err == nil {
			err = gw.handleEndCall(client, payload)
		}
	default:
		log.Printf("Unknown event %q from %s", envelope.Event, client.addr)
		gw.sendError(client, "unknown event")
		return
	}

	if err != nil {
		log.Printf("Error handling %s from user %s: %v", envelope.Event, client.userID, err)
		gw.sendError(client, userFacingMessage(err))
	}
}

func (gw *Gateway) sendError(client *Client, message string) {
	gw.SendToClient(client, EventError, ErrorEvent{Message: message})
}

// handleJoinConversation subscribes the connection to a conversation after
// the rate limiter and the membership check admit it.
func (gw *Gateway) handleJoinConversation(client *Client, conversationID string) error {
	if !gw.limiter.Admit(client.id, EventJoinConversation) {
		return rateLimitError("too many actions, slow down")
	}
	if conversationID == "" {
		return validationError("conversation id is required")
	}
	return gw.rooms.Join(gw.ctx, client, conversationID)
}

// shutdownClients gracefully closes all active client connections
func (gw *Gateway) shutdownClients() {
	log.Println("Shutting down all client connections...")

	gw.mutex.Lock()
	clients := make([]*Client, 0, len(gw.clients))
	for client := range gw.clients {
		clients = append(clients, client)
	}
	gw.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the gateway and waits for all
// goroutines to complete. It returns after all client connections are closed
// and goroutines have finished, or when the timeout is reached.
func (gw *Gateway) Shutdown(timeout time.Duration) error {
	log.Println("Initiating gateway shutdown...")

	gw.cancel()
	gw.shutdownClients()

	done := make(chan struct{})
	go func() {
		gw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Gateway shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Gateway shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
