// Package server defines the tagged JSON wire events exchanged with clients
// and the typed payloads they decode into at the boundary.
package server

import (
	"encoding/json"
	"time"
)

// Inbound event names accepted from clients.
const (
	EventSendMessage      = "send_message"
	EventMarkRead         = "mark_read"
	EventTyping           = "typing"
	EventStopTyping       = "stop_typing"
	EventJoinConversation = "join_conversation"
	EventCallUser         = "call_user"
	EventAnswerCall       = "answer_call"
	EventEndCall          = "end_call"
)

// Outbound event names emitted to clients.
const (
	EventNewMessage     = "new_message"
	EventMessagesRead   = "messages_read"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventUserStatus     = "user_status"
	EventIncomingCall   = "incoming_call"
	EventCallAnswered   = "call_answered"
	EventCallEnded      = "call_ended"
	EventError          = "error"
)

// Envelope is the wire frame carrying every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes an outbound event with its payload.
func NewEnvelope(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func decodePayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return validationError("missing event data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return validationError("malformed event data")
	}
	return nil
}

// SendMessagePayload is the inbound send_message payload.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	ReplyTo        string `json:"replyTo,omitempty"`
}

// ConversationPayload is the inbound payload for mark_read, typing,
// stop_typing and join_conversation.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// CallUserPayload is the inbound call_user payload.
type CallUserPayload struct {
	CallID     string `json:"callId,omitempty"`
	ReceiverID string `json:"receiverId"`
	Type       string `json:"type,omitempty"`
}

// AnswerCallPayload is the inbound answer_call payload.
type AnswerCallPayload struct {
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
	Accepted bool   `json:"accepted"`
}

// EndCallPayload is the inbound end_call payload.
type EndCallPayload struct {
	CallID      string `json:"callId"`
	OtherUserID string `json:"otherUserId,omitempty"`
	Duration    int    `json:"duration,omitempty"`
}

// MessageEvent is the outbound new_message payload. Content is the
// sanitized plaintext; ciphertext never leaves the store.
type MessageEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	SenderAvatar   string    `json:"senderAvatar"`
	ReadBy         []string  `json:"readBy"`
	ReplyTo        string    `json:"replyTo,omitempty"`
	Seq            int64     `json:"seq"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessagesReadEvent is the outbound messages_read payload.
type MessagesReadEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// TypingEvent is the outbound user_typing / user_stop_typing payload.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
}

// UserStatusEvent is the outbound presence payload.
type UserStatusEvent struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// IncomingCallEvent is the outbound incoming_call payload.
type IncomingCallEvent struct {
	CallID       string `json:"callId"`
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar"`
	Type         string `json:"type"`
}

// CallAnsweredEvent is the outbound call_answered payload.
type CallAnsweredEvent struct {
	CallID   string `json:"callId"`
	Accepted bool   `json:"accepted"`
}

// CallEndedEvent is the outbound call_ended payload.
type CallEndedEvent struct {
	CallID string `json:"callId"`
}

// ErrorEvent is the outbound error payload.
type ErrorEvent struct {
	Message string `json:"message"`
}
