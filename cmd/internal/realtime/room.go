package realtime

import (
	"log/slog"
	"sync"

	"marketchat/cmd/internal/metrics"
	v1 "marketchat/shared/contracts/chat/v1"
)

// Room is an in-memory membership + broadcast fanout primitive.
//
// Concurrency guarantees:
// - add/remove are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Room struct {
	log  *slog.Logger
	Name string

	mu      sync.RWMutex
	members map[string]*Client
}

func newRoom(log *slog.Logger, name string) *Room {
	return &Room{
		log:     log,
		Name:    name,
		members: make(map[string]*Client),
	}
}

// add reports whether the client was not already a member.
func (r *Room) add(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[client.SessionID]; ok {
		return false
	}
	r.members[client.SessionID] = client
	return true
}

// remove reports whether the session was a member.
func (r *Room) remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[sessionID]; !ok {
		return false
	}
	delete(r.members, sessionID)
	return true
}

func (r *Room) has(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sessionID]
	return ok
}

func (r *Room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fanouts env to all members except the session named by except
// (empty except means everyone). It returns the number of queued deliveries.
func (r *Room) Broadcast(env v1.Envelope, except string) int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for sid, m := range r.members {
		if m == nil || sid == except {
			continue
		}
		if m.offer(env) {
			delivered++
			continue
		}
		metrics.BroadcastDropped.Inc()
		r.log.Debug("room.broadcast.drop", "room", r.Name, "session_id", sid, "type", env.Type)
	}
	return delivered
}
