// Package realtime contains the chat socket server: connection registry, room
// router, message ingestion, presence/typing broadcasting and the WebSocket gateway.
package realtime

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"marketchat/cmd/internal/metrics"
	v1 "marketchat/shared/contracts/chat/v1"
)

const (
	roomPrefixUser         = "user:"
	roomPrefixGuest        = "guest:"
	roomPrefixConversation = "conversation:"
)

// UserRoom names the per-identity room shared by users and partners.
func UserRoom(id string) string { return roomPrefixUser + id }

// GuestRoom names the per-guest room.
func GuestRoom(anonymousID string) string { return roomPrefixGuest + anonymousID }

// ConversationRoom names the room that receives a conversation's messages and typing events.
func ConversationRoom(conversationID string) string { return roomPrefixConversation + conversationID }

// IsConversationRoom reports whether name is a conversation room.
func IsConversationRoom(name string) bool { return strings.HasPrefix(name, roomPrefixConversation) }

// Hub is the room router. It tracks every connected client, room membership
// per session, and drops rooms once their last member leaves.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	rooms   map[string]*Room
	clients map[string]*Client
	joined  map[string]map[string]struct{} // session_id -> room names
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		rooms:   make(map[string]*Room),
		clients: make(map[string]*Client),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Register makes the client reachable by global broadcasts.
func (h *Hub) Register(c *Client) {
	if c == nil || c.SessionID == "" {
		return
	}
	h.mu.Lock()
	h.clients[c.SessionID] = c
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()
}

// Unregister removes the client from every room and from global broadcasts.
// It returns the names of the rooms the client left.
func (h *Hub) Unregister(sessionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[sessionID]; ok {
		delete(h.clients, sessionID)
		metrics.ConnectionsActive.Dec()
	}

	names := make([]string, 0, len(h.joined[sessionID]))
	for name := range h.joined[sessionID] {
		h.leaveLocked(name, sessionID)
		names = append(names, name)
	}
	delete(h.joined, sessionID)
	sort.Strings(names)
	return names
}

// Join adds the client to the named room. Joining twice is a no-op; the return
// value reports whether membership changed.
func (h *Hub) Join(name string, c *Client) bool {
	if c == nil || c.SessionID == "" || name == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Unregistered sessions would leak rooms that nothing removes.
	if h.clients[c.SessionID] != c {
		return false
	}

	r := h.rooms[name]
	if r == nil {
		r = newRoom(h.log, name)
		h.rooms[name] = r
	}
	if !r.add(c) {
		return false
	}

	set := h.joined[c.SessionID]
	if set == nil {
		set = make(map[string]struct{})
		h.joined[c.SessionID] = set
	}
	set[name] = struct{}{}

	h.log.Debug("room.member.join", "room", name, "session_id", c.SessionID)
	return true
}

// Leave removes the session from the named room and reports whether it was a member.
func (h *Hub) Leave(name, sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.leaveLocked(name, sessionID) {
		return false
	}
	if set := h.joined[sessionID]; set != nil {
		delete(set, name)
		if len(set) == 0 {
			delete(h.joined, sessionID)
		}
	}
	return true
}

func (h *Hub) leaveLocked(name, sessionID string) bool {
	r := h.rooms[name]
	if r == nil || !r.remove(sessionID) {
		return false
	}
	if r.size() == 0 {
		delete(h.rooms, name)
	}
	h.log.Debug("room.member.leave", "room", name, "session_id", sessionID)
	return true
}

// IsMember reports whether the session is in the named room.
func (h *Hub) IsMember(name, sessionID string) bool {
	h.mu.RLock()
	r := h.rooms[name]
	h.mu.RUnlock()
	return r != nil && r.has(sessionID)
}

// Members returns the sorted session ids currently in the named room.
func (h *Hub) Members(name string) []string {
	h.mu.RLock()
	r := h.rooms[name]
	h.mu.RUnlock()
	if r == nil {
		return nil
	}

	r.mu.RLock()
	out := make([]string, 0, len(r.members))
	for sid := range r.members {
		out = append(out, sid)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Rooms returns the sorted room names the session belongs to.
func (h *Hub) Rooms(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.joined[sessionID]))
	for name := range h.joined[sessionID] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Broadcast delivers env to every member of the named room.
func (h *Hub) Broadcast(name string, env v1.Envelope) int {
	return h.BroadcastExcept(name, env, "")
}

// BroadcastExcept delivers env to every member of the named room except one session.
func (h *Hub) BroadcastExcept(name string, env v1.Envelope, exceptSessionID string) int {
	h.mu.RLock()
	r := h.rooms[name]
	h.mu.RUnlock()
	return r.Broadcast(env, exceptSessionID)
}

// BroadcastAll delivers env to every registered client.
func (h *Hub) BroadcastAll(env v1.Envelope) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.offer(env) {
			delivered++
			continue
		}
		metrics.BroadcastDropped.Inc()
	}
	return delivered
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
