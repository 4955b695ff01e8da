// Package v1 defines the marketchat realtime protocol v1 contract.
//
// It is shared between the server and Go clients (smoke tool, tests) so the wire
// format stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "marketchat.v1"

// Inbound event types (client -> server).
const (
	TypeUserJoin          = "user:join"
	TypePartnerJoin       = "partner:join"
	TypeGuestJoin         = "guest:join"
	TypeConversationJoin  = "conversation:join"
	TypeConversationLeave = "conversation:leave"
	TypeMessageSend       = "message:send"
	TypeTypingStart       = "typing:start"
	TypeTypingStop        = "typing:stop"
)

// Outbound event types (server -> client).
const (
	// TypeUserOnline and TypeUserOffline are broadcast to every connection.
	TypeUserOnline  = "user:online"
	TypeUserOffline = "user:offline"

	// TypeMessageReceived goes to every member of the conversation room, sender included.
	TypeMessageReceived = "message:received"
	// TypeMessageError goes to the sending connection only.
	TypeMessageError = "message:error"

	// Typing events go to every member of the conversation room except the typist.
	TypeTypingActive   = "typing:active"
	TypeTypingInactive = "typing:inactive"

	TypeConversationJoined = "conversation:joined"
	TypeConversationLeft   = "conversation:left"

	// TypeError reports malformed envelopes and rejected requests.
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an inbound Envelope.
// Payload shape is validated per event type by the server.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if !IsInbound(e.Type) {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// IsInbound reports whether typ is an event a client may send.
func IsInbound(typ string) bool {
	switch typ {
	case TypeUserJoin,
		TypePartnerJoin,
		TypeGuestJoin,
		TypeConversationJoin,
		TypeConversationLeave,
		TypeMessageSend,
		TypeTypingStart,
		TypeTypingStop:
		return true
	default:
		return false
	}
}
