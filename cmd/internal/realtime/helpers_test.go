package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "marketchat/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, deps Deps, mutate func(*Options)) *Gateway {
	t.Helper()

	if deps.Messages == nil || deps.Conversations == nil {
		st := NewInMemoryStore()
		if deps.Messages == nil {
			deps.Messages = st
		}
		if deps.Conversations == nil {
			deps.Conversations = st
		}
	}

	opts := DefaultOptions()
	opts.TypingTTL = time.Hour
	if mutate != nil {
		mutate(&opts)
	}

	g, err := NewGateway(testLogger(), deps, opts)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}

func inbound(t *testing.T, typ string, payload any) v1.Envelope {
	t.Helper()
	return v1.Envelope{V: v1.Version, Type: typ, Payload: mustRaw(t, payload)}
}

// drain returns every envelope currently queued for c without blocking.
// registered returns fresh clients already registered with h.
func registered(h *Hub, queue int, sessionIDs ...string) []*Client {
	out := make([]*Client, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		c := NewClient(id, queue)
		h.Register(c)
		out = append(out, c)
	}
	return out
}

func drain(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func ofType(envs []v1.Envelope, typ string) []v1.Envelope {
	var out []v1.Envelope
	for _, e := range envs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func mustDecode[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return v
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// ---- fakes ----

var errStoreDown = errors.New("store unavailable")

// failingMessages fails CreateMessage and delegates reads.
type failingMessages struct {
	*InMemoryStore
}

func (f failingMessages) CreateMessage(context.Context, NewMessage) (StoredMessage, error) {
	return StoredMessage{}, errStoreDown
}

// flakyConversations fails UpdateLastMessage the first failures times.
type flakyConversations struct {
	*InMemoryStore

	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyConversations) UpdateLastMessage(ctx context.Context, conversationID string, last LastMessage) error {
	f.mu.Lock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		err := f.err
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	return f.InMemoryStore.UpdateLastMessage(ctx, conversationID, last)
}

func (f *flakyConversations) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
