package realtime

import (
	"sync"

	v1 "marketchat/shared/contracts/chat/v1"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is never closed by the server so concurrent broadcasters cannot panic.
// - done signals the writer/heartbeat goroutines to stop; Close is idempotent.
// - At most one Identity is bound at a time.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	identity Identity

	// life serializes identity/room joins against disconnect.
	life   sync.Mutex
	closed bool // guarded by mu
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Identity returns the bound identity, if any.
func (c *Client) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, !c.identity.IsZero()
}

// bind replaces the bound identity and returns the previous one.
// It refuses once the client was disconnected.
func (c *Client) bind(id Identity) (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Identity{}, false
	}
	prev := c.identity
	c.identity = id
	return prev, true
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// markClosed flags the client as disconnected. The caller holds c.life.
func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// unbind clears the bound identity and returns it.
func (c *Client) unbind() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.identity
	c.identity = Identity{}
	return prev
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues env without blocking. It reports false when the client is
// shutting down or its queue is full.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
