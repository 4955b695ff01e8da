package realtime

import (
	"log/slog"
	"time"

	v1 "marketchat/shared/contracts/chat/v1"
)

// Presence broadcasts global online/offline events for non-guest identities.
type Presence struct {
	log *slog.Logger
	hub *Hub
}

// NewPresence constructs a Presence broadcaster over hub.
func NewPresence(log *slog.Logger, hub *Hub) *Presence {
	return &Presence{log: log, hub: hub}
}

// Online announces id to every connection. Guests are never announced.
func (p *Presence) Online(id Identity) {
	p.announce(v1.TypeUserOnline, id)
}

// Offline announces that id went away. Guests are never announced.
func (p *Presence) Offline(id Identity) {
	p.announce(v1.TypeUserOffline, id)
}

func (p *Presence) announce(typ string, id Identity) {
	if id.IsZero() || id.IsGuest() {
		return
	}
	env := newEnvelope(typ, v1.PresencePayload{UserID: id.ID, UserType: string(id.Type)}, time.Now().UTC())
	n := p.hub.BroadcastAll(env)
	p.log.Info("presence."+typ[len("user:"):], "identity", id.String(), "delivered", n)
}
