package realtime

import (
	"sync"
	"time"

	"marketchat/cmd/internal/metrics"
)

// Binding is one registry entry.
type Binding struct {
	Identity Identity
	Client   *Client
	BoundAt  time.Time
}

// Registry maps an identity to its most recently bound connection (last bind wins).
// Users and partners share a key namespace; guests are keyed "guest:<id>".
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Binding
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Binding)}
}

// Bind records c as the connection for id and returns the connection it replaced, if any.
func (r *Registry) Bind(id Identity, c *Client, now time.Time) *Client {
	if id.IsZero() || c == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := id.RegistryKey()
	prev, had := r.byKey[key]
	r.byKey[key] = Binding{Identity: id, Client: c, BoundAt: now}
	if !had {
		metrics.IdentitiesBound.Inc()
		return nil
	}
	if prev.Client == c {
		return nil
	}
	return prev.Client
}

// Unbind removes the entry for id only when c is the currently bound connection,
// so a stale connection never evicts a newer one. It reports whether the entry was removed.
func (r *Registry) Unbind(id Identity, c *Client) bool {
	if id.IsZero() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := id.RegistryKey()
	cur, ok := r.byKey[key]
	if !ok || cur.Client != c {
		return false
	}
	delete(r.byKey, key)
	metrics.IdentitiesBound.Dec()
	return true
}

// Lookup returns the connection currently bound to id.
func (r *Registry) Lookup(id Identity) (*Client, bool) {
	b, ok := r.Binding(id)
	if !ok {
		return nil, false
	}
	return b.Client, true
}

// Binding returns the full registry entry for id.
func (r *Registry) Binding(id Identity) (Binding, bool) {
	if id.IsZero() {
		return Binding{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byKey[id.RegistryKey()]
	return b, ok
}

// Len returns the number of bound identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
