package server_test

import (
	"context"
	"sync"
	"time"

	"github.com/zeus75017/anogram-server/internal/store"
)

// fakeStore is an in-memory store.Store used by the server package tests.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	conversations map[string]string
	members       map[string]map[string]string
	messages      map[string]*store.Message
	seq           map[string]int64
	calls         map[string]*store.Call
	memberLoads   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]store.User),
		conversations: make(map[string]string),
		members:       make(map[string]map[string]string),
		messages:      make(map[string]*store.Message),
		seq:           make(map[string]int64),
		calls:         make(map[string]*store.Call),
	}
}

func (f *fakeStore) addUser(id, displayName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = store.User{ID: id, Username: id, DisplayName: displayName, Status: "offline"}
}

func (f *fakeStore) addConversation(id, typ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[id] = typ
	if f.members[id] == nil {
		f.members[id] = make(map[string]string)
	}
}

func (f *fakeStore) addMember(conversationID, userID, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[conversationID] == nil {
		f.members[conversationID] = make(map[string]string)
	}
	f.members[conversationID][userID] = role
}

func (f *fakeStore) removeMember(conversationID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[conversationID], userID)
}

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeStore) message(id string) (store.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return store.Message{}, false
	}
	return *msg, true
}

func (f *fakeStore) firstMessage() (store.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.messages {
		return *msg, true
	}
	return store.Message{}, false
}

func (f *fakeStore) call(id string) (store.Call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[id]
	if !ok {
		return store.Call{}, false
	}
	return *call, true
}

func (f *fakeStore) userStatus(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id].Status
}

func (f *fakeStore) GetUser(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) UpsertUserStatus(_ context.Context, id, status string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	u.ID = id
	u.Status = status
	u.LastSeen = lastSeen
	f.users[id] = u
	return nil
}

func (f *fakeStore) ConversationType(_ context.Context, conversationID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	typ, ok := f.conversations[conversationID]
	if !ok {
		return "", store.ErrNotFound
	}
	return typ, nil
}

func (f *fakeStore) ConversationIDsFor(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for conversationID, members := range f.members {
		if _, ok := members[userID]; ok {
			ids = append(ids, conversationID)
		}
	}
	return ids, nil
}

func (f *fakeStore) LoadMembers(_ context.Context, conversationID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberLoads++
	members := make(map[string]string, len(f.members[conversationID]))
	for userID, role := range f.members[conversationID] {
		members[userID] = role
	}
	return members, nil
}

func (f *fakeStore) TouchConversation(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (f *fakeStore) InsertMessage(_ context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq[msg.ConversationID]++
	msg.Seq = f.seq[msg.ConversationID]
	stored := *msg
	f.messages[msg.ID] = &stored
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return *msg, nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) UnreadByOthers(_ context.Context, conversationID, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, msg := range f.messages {
		if msg.ConversationID != conversationID || msg.SenderID == userID {
			continue
		}
		read := false
		for _, reader := range msg.ReadBy {
			if reader == userID {
				read = true
				break
			}
		}
		if !read {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) MarkMessagesRead(_ context.Context, messageIDs []string, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range messageIDs {
		msg, ok := f.messages[id]
		if !ok {
			continue
		}
		already := false
		for _, reader := range msg.ReadBy {
			if reader == userID {
				already = true
				break
			}
		}
		if !already {
			msg.ReadBy = append(msg.ReadBy, userID)
		}
	}
	return nil
}

func (f *fakeStore) InsertCall(_ context.Context, call store.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := call
	f.calls[call.ID] = &stored
	return nil
}

func (f *fakeStore) UpdateCallStatus(_ context.Context, callID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return store.ErrNotFound
	}
	call.Status = status
	return nil
}

func (f *fakeStore) EndCall(_ context.Context, callID string, duration int, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return store.ErrNotFound
	}
	call.Status = store.CallEnded
	call.Duration = duration
	call.EndedAt = endedAt
	return nil
}
