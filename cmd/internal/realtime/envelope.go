package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketchat/cmd/internal/ids"
	v1 "marketchat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

// NewSessionID returns a ULID used as websocket session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// newEnvelope builds an outbound envelope. Payloads are plain structs from the
// contract package, so a marshal failure is a programming error and yields a nil payload.
func newEnvelope(typ string, payload any, ts time.Time) v1.Envelope {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ids.MustULID(ts),
		TS:      ts,
		Payload: raw,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, &badJSONError{err: err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// badJSONError marks a frame that arrived intact but did not decode.
type badJSONError struct{ err error }

func (e *badJSONError) Error() string { return "invalid JSON: " + e.err.Error() }
func (e *badJSONError) Unwrap() error { return e.err }
