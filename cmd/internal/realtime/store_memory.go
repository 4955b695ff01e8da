package realtime

import (
	"context"
	"sync"
	"time"

	"marketchat/cmd/internal/ids"
)

const (
	memMaxMessagesPerConversation = 10_000
)

// InMemoryStore is a dev-only MessageStore + ConversationStore used when no
// database is configured. Unknown conversations are created on first summary update.
type InMemoryStore struct {
	mu       sync.Mutex
	users    map[string]SenderProfile
	messages map[string]StoredMessage
	convs    map[string]*memConv
}

type memConv struct {
	last         *LastMessage
	participants map[string]struct{} // Identity.RegistryKey()
	msgIDs       []string            // ordered by creation
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]SenderProfile),
		messages: make(map[string]StoredMessage),
		convs:    make(map[string]*memConv),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// PutUser registers a sender profile used to populate messages.
func (s *InMemoryStore) PutUser(p SenderProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.ID] = p
}

// PutConversation creates (or extends) a conversation with the given participants.
func (s *InMemoryStore) PutConversation(conversationID string, participants ...Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.convLocked(conversationID)
	for _, p := range participants {
		c.participants[p.RegistryKey()] = struct{}{}
	}
}

// LastMessage returns the stored summary of a conversation.
func (s *InMemoryStore) LastMessage(conversationID string) (LastMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.convs[conversationID]
	if c == nil || c.last == nil {
		return LastMessage{}, false
	}
	return *c.last, true
}

// Messages returns a conversation's messages in creation order.
func (s *InMemoryStore) Messages(conversationID string) []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.convs[conversationID]
	if c == nil {
		return nil
	}
	out := make([]StoredMessage, 0, len(c.msgIDs))
	for _, id := range c.msgIDs {
		out = append(out, s.messages[id])
	}
	return out
}

// CreateMessage persists a message.
func (s *InMemoryStore) CreateMessage(ctx context.Context, m NewMessage) (StoredMessage, error) {
	if err := m.Validate(); err != nil {
		return StoredMessage{}, err
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	now := m.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return StoredMessage{}, err
	}

	msg := StoredMessage{
		ID:             id,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		SenderType:     m.SenderType,
		SenderID:       m.SenderID,
		CreatedAt:      now,
	}
	if m.Anonymous != nil {
		a := *m.Anonymous
		msg.Anonymous = &a
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convLocked(m.ConversationID)
	s.messages[id] = msg
	c.msgIDs = append(c.msgIDs, id)

	// Bound memory to avoid unbounded growth in dev.
	if over := len(c.msgIDs) - memMaxMessagesPerConversation; over > 0 {
		for _, old := range c.msgIDs[:over] {
			delete(s.messages, old)
		}
		c.msgIDs = c.msgIDs[over:]
	}

	return msg, nil
}

// FindMessage returns a message with its sender populated from PutUser profiles.
func (s *InMemoryStore) FindMessage(ctx context.Context, id string) (StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return StoredMessage{}, ErrMessageNotFound
	}
	if msg.SenderID != "" {
		if p, ok := s.users[msg.SenderID]; ok {
			msg.Sender = &p
		}
	}
	return msg, nil
}

// UpdateLastMessage overwrites the conversation summary unless a newer one exists.
func (s *InMemoryStore) UpdateLastMessage(ctx context.Context, conversationID string, last LastMessage) error {
	if conversationID == "" {
		return inputErr("conversationId", "missing")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convLocked(conversationID)
	if c.last != nil && c.last.Timestamp.After(last.Timestamp) {
		return nil
	}
	c.last = &last
	return nil
}

// IsParticipant reports whether id was registered via PutConversation.
func (s *InMemoryStore) IsParticipant(ctx context.Context, conversationID string, id Identity) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return false, nil
	}
	_, ok := c.participants[id.RegistryKey()]
	return ok, nil
}

func (s *InMemoryStore) convLocked(conversationID string) *memConv {
	c := s.convs[conversationID]
	if c == nil {
		c = &memConv{participants: make(map[string]struct{})}
		s.convs[conversationID] = c
	}
	return c
}
