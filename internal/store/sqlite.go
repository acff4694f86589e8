package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite implements Store on a local SQLite database.
type SQLite struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL,
		bio TEXT DEFAULT '',
		avatar TEXT DEFAULT '',
		status TEXT DEFAULT 'offline',
		last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		type TEXT DEFAULT 'private',
		name TEXT,
		avatar TEXT,
		description TEXT DEFAULT '',
		created_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE SET NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_participants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT DEFAULT 'member',
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		UNIQUE(conversation_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT DEFAULT 'text',
		read_by TEXT DEFAULT '[]',
		reply_to TEXT,
		seq INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
		FOREIGN KEY (sender_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS saved_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE,
		UNIQUE(user_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS calls (
		id TEXT PRIMARY KEY,
		caller_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		type TEXT DEFAULT 'audio',
		status TEXT DEFAULT 'calling',
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		ended_at DATETIME,
		duration INTEGER DEFAULT 0,
		FOREIGN KEY (caller_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (receiver_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_conversation ON conversation_participants(conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_saved_messages_user ON saved_messages(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls(caller_id)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_receiver ON calls(receiver_id)`,
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetUser implements Store.
func (s *SQLite) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, avatar, status, last_seen FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Avatar, &u.Status, &lastSeen)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("selecting user: %w", err)
	}
	u.LastSeen = lastSeen.Time
	return u, nil
}

// UpsertUserStatus implements Store.
func (s *SQLite) UpsertUserStatus(ctx context.Context, id, status string, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, last_seen = ? WHERE id = ?`,
		status, lastSeen.UTC(), id)
	if err != nil {
		return fmt.Errorf("updating user status: %w", err)
	}
	return nil
}

// ConversationType implements Store.
func (s *SQLite) ConversationType(ctx context.Context, conversationID string) (string, error) {
	var typ string
	err := s.db.QueryRowContext(ctx,
		`SELECT type FROM conversations WHERE id = ?`, conversationID).Scan(&typ)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("selecting conversation: %w", err)
	}
	return typ, nil
}

// ConversationIDsFor implements Store.
func (s *SQLite) ConversationIDsFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id FROM conversation_participants WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("selecting participations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning participation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadMembers implements Store.
func (s *SQLite) LoadMembers(ctx context.Context, conversationID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, role FROM conversation_participants WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("selecting members: %w", err)
	}
	defer rows.Close()

	members := make(map[string]string)
	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members[userID] = role
	}
	return members, rows.Err()
}

// TouchConversation implements Store.
func (s *SQLite) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, at.UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// InsertMessage implements Store. The per-conversation sequence number is
// assigned inside the insert transaction.
func (s *SQLite) InsertMessage(ctx context.Context, msg *Message) error {
	readBy, err := json.Marshal(emptyIfNil(msg.ReadBy))
	if err != nil {
		return fmt.Errorf("encoding read_by: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		msg.ConversationID).Scan(&msg.Seq); err != nil {
		return fmt.Errorf("assigning sequence: %w", err)
	}

	var replyTo interface{}
	if msg.ReplyTo != "" {
		replyTo = msg.ReplyTo
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, type, read_by, reply_to, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type,
		string(readBy), replyTo, msg.Seq, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return tx.Commit()
}

// GetMessage implements Store.
func (s *SQLite) GetMessage(ctx context.Context, id string) (Message, error) {
	var m Message
	var readBy string
	var replyTo sql.NullString
	var createdAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender_id, content, type, read_by, reply_to, seq, created_at
		 FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &readBy, &replyTo, &m.Seq, &createdAt)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("selecting message: %w", err)
	}
	if err := json.Unmarshal([]byte(readBy), &m.ReadBy); err != nil {
		m.ReadBy = nil
	}
	m.ReplyTo = replyTo.String
	m.CreatedAt = createdAt.Time
	return m, nil
}

// DeleteMessage implements Store. Saved references go with the message via
// the foreign key cascade.
func (s *SQLite) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UnreadByOthers implements Store.
func (s *SQLite) UnreadByOthers(ctx context.Context, conversationID, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, read_by FROM messages WHERE conversation_id = ? AND sender_id != ?`,
		conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("selecting messages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, readByRaw string
		if err := rows.Scan(&id, &readByRaw); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		var readBy []string
		if err := json.Unmarshal([]byte(readByRaw), &readBy); err != nil {
			readBy = nil
		}
		if !contains(readBy, userID) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// MarkMessagesRead implements Store.
func (s *SQLite) MarkMessagesRead(ctx context.Context, messageIDs []string, userID string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range messageIDs {
		var readByRaw string
		err := tx.QueryRowContext(ctx,
			`SELECT read_by FROM messages WHERE id = ?`, id).Scan(&readByRaw)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("selecting read_by: %w", err)
		}
		var readBy []string
		if err := json.Unmarshal([]byte(readByRaw), &readBy); err != nil {
			readBy = nil
		}
		if contains(readBy, userID) {
			continue
		}
		updated, err := json.Marshal(append(readBy, userID))
		if err != nil {
			return fmt.Errorf("encoding read_by: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET read_by = ? WHERE id = ?`, string(updated), id); err != nil {
			return fmt.Errorf("updating read_by: %w", err)
		}
	}
	return tx.Commit()
}

// InsertCall implements Store.
func (s *SQLite) InsertCall(ctx context.Context, call Call) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (id, caller_id, receiver_id, type, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		call.ID, call.CallerID, call.ReceiverID, call.Type, call.Status, call.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

// UpdateCallStatus implements Store.
func (s *SQLite) UpdateCallStatus(ctx context.Context, callID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET status = ? WHERE id = ?`, status, callID)
	if err != nil {
		return fmt.Errorf("updating call: %w", err)
	}
	return nil
}

// EndCall implements Store.
func (s *SQLite) EndCall(ctx context.Context, callID string, duration int, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, duration = ?, ended_at = ? WHERE id = ?`,
		CallEnded, duration, endedAt.UTC(), callID)
	if err != nil {
		return fmt.Errorf("ending call: %w", err)
	}
	return nil
}

// GetCall returns one call record, or ErrNotFound. Not part of the Store
// interface; used by seeding and tests.
func (s *SQLite) GetCall(ctx context.Context, id string) (Call, error) {
	var c Call
	var startedAt, endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, caller_id, receiver_id, type, status, started_at, ended_at, duration
		 FROM calls WHERE id = ?`, id).
		Scan(&c.ID, &c.CallerID, &c.ReceiverID, &c.Type, &c.Status, &startedAt, &endedAt, &c.Duration)
	if err == sql.ErrNoRows {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("selecting call: %w", err)
	}
	c.StartedAt = startedAt.Time
	c.EndedAt = endedAt.Time
	return c, nil
}

// CreateUser inserts a user account. Accounts are normally provisioned by
// the HTTP API living in front of this engine; the engine only needs this
// for seeding and tests.
func (s *SQLite) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, avatar, status, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, u.Avatar, defaultString(u.Status, "offline"),
		orNow(u.LastSeen).UTC())
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// CreateConversation inserts a conversation of the given type.
func (s *SQLite) CreateConversation(ctx context.Context, id, typ, name, createdBy string) error {
	var creator interface{}
	if createdBy != "" {
		creator = createdBy
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, type, name, created_by) VALUES (?, ?, ?, ?)`,
		id, typ, name, creator)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// AddParticipant adds a user to a conversation with the given role.
func (s *SQLite) AddParticipant(ctx context.Context, conversationID, userID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id, role) VALUES (?, ?, ?)`,
		conversationID, userID, defaultString(role, RoleMember))
	if err != nil {
		return fmt.Errorf("inserting participant: %w", err)
	}
	return nil
}

// SaveMessage bookmarks a message for a user.
func (s *SQLite) SaveMessage(ctx context.Context, userID, messageID, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO saved_messages (user_id, message_id, conversation_id) VALUES (?, ?, ?)`,
		userID, messageID, conversationID)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// SavedMessageIDs lists the ids of messages a user has bookmarked.
func (s *SQLite) SavedMessageIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id FROM saved_messages WHERE user_id = ? ORDER BY saved_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("selecting saved messages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning saved message: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
