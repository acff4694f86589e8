// Package server runs inbound messages through the delivery pipeline:
// admission, validation, authorization, sanitization, persistence, fan-out.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zeus75017/anogram-server/internal/secure"
	"github.com/zeus75017/anogram-server/internal/store"
)

// EventSink delivers pipeline output onto live connections. Gateway is the
// production implementation; tests substitute a recording sink.
type EventSink interface {
	SendToClient(client *Client, event string, data interface{})
	SendToUser(userID, event string, data interface{})
	BroadcastToConversation(conversationID, event string, data interface{})
}

// Pipeline processes message traffic for one gateway. Stages run in a fixed
// order; a stage that rejects stops the message before any later stage has
// side effects, so a rejected message is never persisted and never fanned
// out.
type Pipeline struct {
	store            store.Store
	cipher           *secure.Cipher
	rooms            *Rooms
	limiter          *RateLimiter
	sink             EventSink
	maxContentLength int
}

// NewPipeline wires a Pipeline to its collaborators.
func NewPipeline(st store.Store, cipher *secure.Cipher, rooms *Rooms, limiter *RateLimiter, sink EventSink) *Pipeline {
	cfg := currentConfig()
	return &Pipeline{
		store:            st,
		cipher:           cipher,
		rooms:            rooms,
		limiter:          limiter,
		sink:             sink,
		maxContentLength: cfg.MaxContentLength,
	}
}

// SendMessage runs one inbound message through the full pipeline. On success
// every connected member of the conversation, the sender included, receives
// the new_message event carrying the sanitized plaintext.
func (p *Pipeline) SendMessage(ctx context.Context, client *Client, payload SendMessagePayload) error {
	if !p.limiter.Admit(client.id, EventSendMessage) {
		return rateLimitError("too many messages, slow down")
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return validationError("message content is empty")
	}
	if utf8.RuneCountInString(content) > p.maxContentLength {
		return validationError(fmt.Sprintf("message too long (max %d characters)", p.maxContentLength))
	}
	if payload.ConversationID == "" {
		return validationError("conversation id is required")
	}

	role, err := p.rooms.RoleOf(ctx, payload.ConversationID, client.userID)
	if err != nil {
		return err
	}
	if role == "" {
		return permissionError("not a member of this conversation")
	}

	conversationType, err := p.store.ConversationType(ctx, payload.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return validationError("conversation not found")
		}
		return fmt.Errorf("loading conversation %s: %w", payload.ConversationID, err)
	}
	if conversationType == store.ConversationChannel && role != store.RoleAdmin {
		return permissionError("only the admin can post in this channel")
	}

	sanitized := secure.EscapeForDisplay(content)
	messageType := payload.Type
	if messageType == "" {
		messageType = "text"
	}

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: payload.ConversationID,
		SenderID:       client.userID,
		Content:        p.cipher.Encrypt(sanitized),
		Type:           messageType,
		ReplyTo:        payload.ReplyTo,
		ReadBy:         []string{},
		CreatedAt:      time.Now().UTC(),
	}
	if err := p.store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("persisting message: %w", err)
	}
	if err := p.store.TouchConversation(ctx, payload.ConversationID, msg.CreatedAt); err != nil {
		log.Printf("Error touching conversation %s: %v", payload.ConversationID, err)
	}

	sender, err := p.store.GetUser(ctx, client.userID)
	if err != nil {
		log.Printf("Error loading sender %s: %v", client.userID, err)
	}

	p.sink.BroadcastToConversation(payload.ConversationID, EventNewMessage, MessageEvent{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Content:        sanitized,
		Type:           msg.Type,
		SenderID:       msg.SenderID,
		SenderName:     sender.DisplayName,
		SenderAvatar:   sender.Avatar,
		ReadBy:         []string{},
		ReplyTo:        msg.ReplyTo,
		Seq:            msg.Seq,
		CreatedAt:      msg.CreatedAt,
	})
	return nil
}

// MarkRead records the caller as having read every message in the
// conversation authored by other users. Repeated calls are harmless; the
// readBy set only grows. One messages_read event goes to the conversation's
// connected members regardless of how many rows changed.
func (p *Pipeline) MarkRead(ctx context.Context, client *Client, conversationID string) error {
	if !p.limiter.Admit(client.id, EventMarkRead) {
		return rateLimitError("too many actions, slow down")
	}
	if conversationID == "" {
		return validationError("conversation id is required")
	}

	role, err := p.rooms.RoleOf(ctx, conversationID, client.userID)
	if err != nil {
		return err
	}
	if role == "" {
		return permissionError("not a member of this conversation")
	}

	messageIDs, err := p.store.UnreadByOthers(ctx, conversationID, client.userID)
	if err != nil {
		return fmt.Errorf("loading unread messages: %w", err)
	}
	if len(messageIDs) > 0 {
		if err := p.store.MarkMessagesRead(ctx, messageIDs, client.userID); err != nil {
			return fmt.Errorf("updating read receipts: %w", err)
		}
	}

	p.sink.BroadcastToConversation(conversationID, EventMessagesRead, MessagesReadEvent{
		ConversationID: conversationID,
		UserID:         client.userID,
	})
	return nil
}

// DeleteMessage removes a message on behalf of its sender, along with any
// saved references. Other users cannot delete it. There is no live
// broadcast; clients reconcile deletions when they reload history.
func (p *Pipeline) DeleteMessage(ctx context.Context, userID, messageID string) error {
	msg, err := p.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return validationError("message not found")
	}
	if err != nil {
		return fmt.Errorf("loading message %s: %w", messageID, err)
	}
	if msg.SenderID != userID {
		return permissionError("only the sender can delete a message")
	}
	if err := p.store.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("deleting message %s: %w", messageID, err)
	}
	return nil
}
