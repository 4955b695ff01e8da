package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketchat/cmd/internal/metrics"
	v1 "marketchat/shared/contracts/chat/v1"
)

// dispatch handles one inbound envelope to completion. Errors never escape:
// they are reported to the client and counted.
func (g *Gateway) dispatch(ctx context.Context, c *Client, env v1.Envelope) {
	if err := env.Validate(); err != nil {
		metrics.EventsTotal.WithLabelValues("invalid", "error").Inc()
		g.sendError(c, "bad_envelope", err.Error())
		return
	}

	var err error
	switch env.Type {
	case v1.TypeUserJoin:
		err = g.onIdentityJoin(c, env.Payload, parseUserJoin)
	case v1.TypePartnerJoin:
		err = g.onIdentityJoin(c, env.Payload, parsePartnerJoin)
	case v1.TypeGuestJoin:
		err = g.onIdentityJoin(c, env.Payload, parseGuestJoin)
	case v1.TypeConversationJoin:
		err = g.onConversationJoin(ctx, c, env.Payload)
	case v1.TypeConversationLeave:
		err = g.onConversationLeave(c, env.Payload)
	case v1.TypeMessageSend:
		err = g.onMessageSend(ctx, c, env.Payload)
	case v1.TypeTypingStart:
		err = g.onTypingStart(c, env.Payload)
	case v1.TypeTypingStop:
		err = g.onTypingStop(c, env.Payload)
	default:
		err = fmt.Errorf("unsupported type: %s", env.Type)
	}

	if err == nil {
		metrics.EventsTotal.WithLabelValues(env.Type, "ok").Inc()
		return
	}
	metrics.EventsTotal.WithLabelValues(env.Type, "error").Inc()
	g.reject(c, env.Type, err)
}

func (g *Gateway) reject(c *Client, typ string, err error) {
	if typ == v1.TypeMessageSend {
		g.send(c, v1.TypeMessageError, messageErrorPayload(err))
		return
	}

	code, msg := "internal", "internal error"
	switch {
	case errors.Is(err, ErrInvalidInput):
		code, msg = "invalid_payload", err.Error()
	case errors.Is(err, ErrNotBound):
		code, msg = "not_joined", err.Error()
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrSenderMismatch):
		code, msg = "forbidden", err.Error()
	default:
		g.log.Error("ws.event.fail", "session_id", c.SessionID, "type", typ, "err", err)
	}
	g.sendError(c, code, msg)
}

func messageErrorPayload(err error) v1.MessageErrorPayload {
	var pe *PersistError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return v1.MessageErrorPayload{Error: "Invalid message payload", Details: err.Error()}
	case errors.As(err, &pe):
		return v1.MessageErrorPayload{Error: "Failed to send message", Details: pe.Err.Error()}
	case errors.Is(err, ErrNotBound), errors.Is(err, ErrNotParticipant), errors.Is(err, ErrSenderMismatch):
		return v1.MessageErrorPayload{Error: "Not allowed to send message", Details: err.Error()}
	default:
		return v1.MessageErrorPayload{Error: "Failed to send message", Details: err.Error()}
	}
}

// ---- identity ----

func (g *Gateway) onIdentityJoin(c *Client, raw json.RawMessage, parse func(json.RawMessage) (Identity, error)) error {
	id, err := parse(raw)
	if err != nil {
		return err
	}

	c.life.Lock()
	defer c.life.Unlock()

	prev, ok := c.bind(id)
	if !ok {
		return nil
	}
	// Users and partners share a registry slot; switching between them for the
	// same id is a retag, not a departure.
	if !prev.IsZero() && prev.RegistryKey() != id.RegistryKey() {
		g.release(c, prev)
	}

	if replaced := g.registry.Bind(id, c, g.now()); replaced != nil {
		g.log.Debug("registry.rebind", "identity", id.String(), "session_id", c.SessionID, "replaced_session_id", replaced.SessionID)
	}
	g.hub.Join(id.Room(), c)
	g.presence.Online(id)
	return nil
}

// release drops a previously bound identity from c without touching conversation rooms.
func (g *Gateway) release(c *Client, id Identity) {
	g.hub.Leave(id.Room(), c.SessionID)
	if g.registry.Unbind(id, c) {
		g.presence.Offline(id)
	}
}

// ---- conversations ----

func (g *Gateway) onConversationJoin(ctx context.Context, c *Client, raw json.RawMessage) error {
	convID, err := parseConversationID(raw)
	if err != nil {
		return err
	}

	if g.opts.RequireParticipant {
		id, ok := c.Identity()
		if !ok {
			return ErrNotBound
		}
		if err := g.authorize(ctx, convID, id); err != nil {
			return err
		}
	}

	c.life.Lock()
	joined := !c.isClosed() && (g.hub.Join(ConversationRoom(convID), c) || g.hub.IsMember(ConversationRoom(convID), c.SessionID))
	c.life.Unlock()
	if !joined {
		return nil
	}

	g.send(c, v1.TypeConversationJoined, v1.ConversationPayload{ConversationID: convID})
	return nil
}

func (g *Gateway) onConversationLeave(c *Client, raw json.RawMessage) error {
	convID, err := parseConversationID(raw)
	if err != nil {
		return err
	}

	g.typing.Clear(c.SessionID, convID)
	g.hub.Leave(ConversationRoom(convID), c.SessionID)
	g.send(c, v1.TypeConversationLeft, v1.ConversationPayload{ConversationID: convID})
	return nil
}

func (g *Gateway) authorize(ctx context.Context, conversationID string, id Identity) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.StoreTimeout)
	defer cancel()

	ok, err := g.conversations.IsParticipant(ctx, conversationID, id)
	if err != nil {
		return fmt.Errorf("participant check: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// ---- messages ----

func (g *Gateway) onMessageSend(ctx context.Context, c *Client, raw json.RawMessage) error {
	req, err := parseSendRequest(raw)
	if err != nil {
		metrics.IngestFailures.WithLabelValues("validate").Inc()
		return err
	}

	if g.opts.RequireParticipant {
		bound, ok := c.Identity()
		if !ok {
			return ErrNotBound
		}
		if bound.RegistryKey() != req.Identity().RegistryKey() {
			return ErrSenderMismatch
		}
		if err := g.authorize(ctx, req.ConversationID, bound); err != nil {
			return err
		}
	}

	g.typing.Clear(c.SessionID, req.ConversationID)

	_, err = g.ingest.Ingest(ctx, req)
	return err
}

// ---- typing ----

func (g *Gateway) onTypingStart(c *Client, raw json.RawMessage) error {
	req, err := parseTypingStart(raw)
	if err != nil {
		return err
	}
	if !g.typing.Start(c, req.ConversationID, req.DisplayName) {
		g.log.Debug("typing.ignored", "session_id", c.SessionID, "conversation_id", req.ConversationID)
	}
	return nil
}

func (g *Gateway) onTypingStop(c *Client, raw json.RawMessage) error {
	convID, err := parseConversationID(raw)
	if err != nil {
		return err
	}
	if !g.typing.Stop(c, convID) {
		g.log.Debug("typing.ignored", "session_id", c.SessionID, "conversation_id", convID)
	}
	return nil
}
