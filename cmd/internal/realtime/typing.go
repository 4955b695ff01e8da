package realtime

import (
	"sync"
	"time"

	v1 "marketchat/shared/contracts/chat/v1"
)

type typingKey struct {
	conversationID string
	sessionID      string
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// TypingTracker broadcasts typing indicators to the other members of a
// conversation room and clears indicators that were not refreshed within ttl.
type TypingTracker struct {
	hub *Hub
	ttl time.Duration

	mu     sync.Mutex
	gen    uint64
	active map[typingKey]typingEntry
}

// NewTypingTracker constructs a tracker. ttl <= 0 disables expiry.
func NewTypingTracker(hub *Hub, ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		hub:    hub,
		ttl:    ttl,
		active: make(map[typingKey]typingEntry),
	}
}

// Start broadcasts typing:active for the client's session. It reports false and
// does nothing when the client is not a member of the conversation room.
func (t *TypingTracker) Start(c *Client, conversationID, displayName string) bool {
	room := ConversationRoom(conversationID)
	if !t.hub.IsMember(room, c.SessionID) {
		return false
	}

	t.hub.BroadcastExcept(room, newEnvelope(v1.TypeTypingActive, v1.TypingActivePayload{
		Username:       displayName,
		ConversationID: conversationID,
	}, time.Now().UTC()), c.SessionID)

	if t.ttl > 0 {
		key := typingKey{conversationID: conversationID, sessionID: c.SessionID}
		t.mu.Lock()
		if prev, ok := t.active[key]; ok {
			prev.timer.Stop()
		}
		t.gen++
		gen := t.gen
		t.active[key] = typingEntry{timer: time.AfterFunc(t.ttl, func() { t.expire(key, gen) }), gen: gen}
		t.mu.Unlock()
	}
	return true
}

// Stop broadcasts typing:inactive for the client's session.
func (t *TypingTracker) Stop(c *Client, conversationID string) bool {
	room := ConversationRoom(conversationID)
	if !t.hub.IsMember(room, c.SessionID) {
		return false
	}
	t.disarm(typingKey{conversationID: conversationID, sessionID: c.SessionID})
	t.broadcastInactive(conversationID, c.SessionID)
	return true
}

// Clear ends an active indicator, if any, and broadcasts typing:inactive.
func (t *TypingTracker) Clear(sessionID, conversationID string) {
	if t.disarm(typingKey{conversationID: conversationID, sessionID: sessionID}) {
		t.broadcastInactive(conversationID, sessionID)
	}
}

// ClearSession ends every active indicator of a session.
func (t *TypingTracker) ClearSession(sessionID string) {
	t.mu.Lock()
	var convs []string
	for key, e := range t.active {
		if key.sessionID != sessionID {
			continue
		}
		e.timer.Stop()
		delete(t.active, key)
		convs = append(convs, key.conversationID)
	}
	t.mu.Unlock()

	for _, conv := range convs {
		t.broadcastInactive(conv, sessionID)
	}
}

// Active reports whether the session currently has a typing indicator in the conversation.
func (t *TypingTracker) Active(sessionID, conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{conversationID: conversationID, sessionID: sessionID}]
	return ok
}

func (t *TypingTracker) disarm(key typingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.active, key)
	return true
}

func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	if e, ok := t.active[key]; !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()

	t.broadcastInactive(key.conversationID, key.sessionID)
}

func (t *TypingTracker) broadcastInactive(conversationID, sessionID string) {
	t.hub.BroadcastExcept(ConversationRoom(conversationID), newEnvelope(v1.TypeTypingInactive, v1.ConversationPayload{
		ConversationID: conversationID,
	}, time.Now().UTC()), sessionID)
}
