// Package store persists users, conversations, messages and calls. The
// message pipeline hands it ciphertext; content encryption is not its
// concern.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Participant roles inside a conversation.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Conversation types.
const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
	ConversationChannel = "channel"
)

// Call lifecycle statuses.
const (
	CallCalling  = "calling"
	CallActive   = "active"
	CallEnded    = "ended"
	CallDeclined = "declined"
	CallMissed   = "missed"
)

// User is a chat account as seen by the realtime engine.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Avatar      string
	Status      string
	LastSeen    time.Time
}

// Message is one persisted conversation message. Content holds whatever the
// caller stored, normally ciphertext. Seq is a per-conversation monotonic
// sequence number assigned at insert time and breaks ordering ties between
// messages sharing a timestamp.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Type           string
	ReplyTo        string
	ReadBy         []string
	Seq            int64
	CreatedAt      time.Time
}

// Call is one call-signaling record.
type Call struct {
	ID         string
	CallerID   string
	ReceiverID string
	Type       string
	Status     string
	StartedAt  time.Time
	EndedAt    time.Time
	Duration   int
}

// Store is the persistence surface required by the realtime engine.
type Store interface {
	// GetUser returns the user with the given id, or ErrNotFound.
	GetUser(ctx context.Context, id string) (User, error)
	// UpsertUserStatus records the presence state and last-seen time of a user.
	UpsertUserStatus(ctx context.Context, id, status string, lastSeen time.Time) error

	// ConversationType returns the type of a conversation, or ErrNotFound.
	ConversationType(ctx context.Context, conversationID string) (string, error)
	// ConversationIDsFor lists the conversations a user participates in.
	ConversationIDsFor(ctx context.Context, userID string) ([]string, error)
	// LoadMembers returns the userID->role roster of a conversation.
	LoadMembers(ctx context.Context, conversationID string) (map[string]string, error)
	// TouchConversation bumps the conversation's updated_at timestamp.
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error

	// InsertMessage stores a message and assigns msg.Seq.
	InsertMessage(ctx context.Context, msg *Message) error
	// GetMessage returns one message, or ErrNotFound.
	GetMessage(ctx context.Context, id string) (Message, error)
	// DeleteMessage removes a message and any saved references to it.
	DeleteMessage(ctx context.Context, id string) error
	// UnreadByOthers lists ids of messages in the conversation authored by
	// other users whose readBy set does not yet contain userID.
	UnreadByOthers(ctx context.Context, conversationID, userID string) ([]string, error)
	// MarkMessagesRead adds userID to the readBy set of each given message.
	// Messages already read by userID are left untouched.
	MarkMessagesRead(ctx context.Context, messageIDs []string, userID string) error

	// InsertCall records the start of a call.
	InsertCall(ctx context.Context, call Call) error
	// UpdateCallStatus moves a call to a new lifecycle status.
	UpdateCallStatus(ctx context.Context, callID, status string) error
	// EndCall marks a call ended with its duration in seconds.
	EndCall(ctx context.Context, callID string, duration int, endedAt time.Time) error
}
