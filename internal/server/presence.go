// Package server relays presence, typing indicators, and call signaling
// between connected users. None of it is persisted except call records.
package server

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zeus75017/anogram-server/internal/store"
)

// broadcastPresence tells the connected members of every conversation the
// user belongs to that the user's status changed. The user's own
// connections are skipped, and each observer is notified once even when
// several conversations are shared.
func (gw *Gateway) broadcastPresence(userID, status string, lastSeen time.Time) {
	event := UserStatusEvent{UserID: userID, Status: status}
	if !lastSeen.IsZero() {
		event.LastSeen = lastSeen.Format(time.RFC3339)
	}
	payload, err := NewEnvelope(EventUserStatus, event)
	if err != nil {
		log.Printf("Error encoding %s event: %v", EventUserStatus, err)
		return
	}

	conversationIDs, err := gw.store.ConversationIDsFor(gw.ctx, userID)
	if err != nil {
		log.Printf("Error loading conversations for user %s: %v", userID, err)
		return
	}

	notified := map[string]struct{}{userID: {}}
	for _, conversationID := range conversationIDs {
		memberIDs, err := gw.rooms.MembersOf(gw.ctx, conversationID)
		if err != nil {
			log.Printf("Error resolving members of conversation %s: %v", conversationID, err)
			continue
		}
		for _, memberID := range memberIDs {
			if _, done := notified[memberID]; done {
				continue
			}
			notified[memberID] = struct{}{}
			gw.deliver(gw.registry.Resolve(memberID), payload, "")
		}
	}
}

// handleTyping relays a typing indicator to the conversation's other
// connected subscribers. Indicators are ephemeral; nothing is stored.
func (gw *Gateway) handleTyping(client *Client, conversationID string, stop bool) error {
	if !gw.limiter.Admit(client.id, EventTyping) {
		return rateLimitError("too many actions, slow down")
	}
	if conversationID == "" {
		return validationError("conversation id is required")
	}

	role, err := gw.rooms.RoleOf(gw.ctx, conversationID, client.userID)
	if err != nil {
		return err
	}
	if role == "" {
		return permissionError("not a member of this conversation")
	}

	event := EventUserTyping
	if stop {
		event = EventUserStopTyping
	}
	gw.relayToConversation(conversationID, client.userID, event, TypingEvent{
		ConversationID: conversationID,
		UserID:         client.userID,
		Username:       client.username,
	})
	return nil
}

// handleCallUser records the start of a call and rings the receiver. An
// offline receiver is not rung; the record stays in the calling state for an
// external scheduler to expire.
func (gw *Gateway) handleCallUser(client *Client, payload CallUserPayload) error {
	if !gw.limiter.Admit(client.id, EventCallUser) {
		return rateLimitError("too many actions, slow down")
	}
	if payload.ReceiverID == "" {
		return validationError("receiver id is required")
	}

	callID := payload.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	callType := payload.Type
	if callType == "" {
		callType = "audio"
	}

	if err := gw.store.InsertCall(gw.ctx, store.Call{
		ID:         callID,
		CallerID:   client.userID,
		ReceiverID: payload.ReceiverID,
		Type:       callType,
		Status:     store.CallCalling,
		StartedAt:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("recording call %s: %w", callID, err)
	}

	if !gw.registry.IsOnline(payload.ReceiverID) {
		log.Printf("Call %s to offline user %s not delivered", callID, payload.ReceiverID)
		return nil
	}

	caller, err := gw.store.GetUser(gw.ctx, client.userID)
	if err != nil {
		log.Printf("Error loading caller %s: %v", client.userID, err)
	}
	gw.SendToUser(payload.ReceiverID, EventIncomingCall, IncomingCallEvent{
		CallID:       callID,
		CallerID:     client.userID,
		CallerName:   caller.DisplayName,
		CallerAvatar: caller.Avatar,
		Type:         callType,
	})
	return nil
}

// handleAnswerCall relays the receiver's decision back to the caller and
// moves the call to active or declined.
func (gw *Gateway) handleAnswerCall(client *Client, payload AnswerCallPayload) error {
	if !gw.limiter.Admit(client.id, EventAnswerCall) {
		return rateLimitError("too many actions, slow down")
	}
	if payload.CallID == "" {
		return validationError("call id is required")
	}
	if payload.CallerID == "" {
		return validationError("caller id is required")
	}

	status := store.CallActive
	if !payload.Accepted {
		status = store.CallDeclined
	}
	if err := gw.store.UpdateCallStatus(gw.ctx, payload.CallID, status); err != nil {
		return fmt.Errorf("updating call %s: %w", payload.CallID, err)
	}

	gw.SendToUser(payload.CallerID, EventCallAnswered, CallAnsweredEvent{
		CallID:   payload.CallID,
		Accepted: payload.Accepted,
	})
	return nil
}

// handleEndCall closes a call and tells the other party it ended.
func (gw *Gateway) handleEndCall(client *Client, payload EndCallPayload) error {
	if !gw.limiter.Admit(client.id, EventEndCall) {
		return rateLimitError("too many actions, slow down")
	}
	if payload.CallID == "" {
		return validationError("call id is required")
	}

	if err := gw.store.EndCall(gw.ctx, payload.CallID, payload.Duration, time.Now().UTC()); err != nil {
		return fmt.Errorf("ending call %s: %w", payload.CallID, err)
	}

	if payload.OtherUserID != "" {
		gw.SendToUser(payload.OtherUserID, EventCallEnded, CallEndedEvent{CallID: payload.CallID})
	}
	return nil
}
