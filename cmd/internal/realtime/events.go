package realtime

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	v1 "marketchat/shared/contracts/chat/v1"
)

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return inputErr("payload", "missing")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return inputErr("payload", "invalid JSON object")
	}
	return nil
}

func requireID(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", inputErr(field, "missing")
	}
	if utf8.RuneCountInString(v) > maxIDChars {
		return "", inputErr(field, "too long")
	}
	return v, nil
}

func clampName(v string) string {
	v = strings.TrimSpace(v)
	if utf8.RuneCountInString(v) <= maxNameChars {
		return v
	}
	return string([]rune(v)[:maxNameChars])
}

func parseUserJoin(raw json.RawMessage) (Identity, error) {
	var p v1.UserJoinPayload
	if err := decodePayload(raw, &p); err != nil {
		return Identity{}, err
	}
	id, err := requireID("userId", p.UserID)
	if err != nil {
		return Identity{}, err
	}
	return UserIdentity(id), nil
}

func parsePartnerJoin(raw json.RawMessage) (Identity, error) {
	var p v1.PartnerJoinPayload
	if err := decodePayload(raw, &p); err != nil {
		return Identity{}, err
	}
	id, err := requireID("partnerId", p.PartnerID)
	if err != nil {
		return Identity{}, err
	}
	return PartnerIdentity(id), nil
}

func parseGuestJoin(raw json.RawMessage) (Identity, error) {
	var p v1.GuestJoinPayload
	if err := decodePayload(raw, &p); err != nil {
		return Identity{}, err
	}
	id, err := requireID("anonymousId", p.AnonymousID)
	if err != nil {
		return Identity{}, err
	}
	return GuestIdentity(id), nil
}

func parseConversationID(raw json.RawMessage) (string, error) {
	var p v1.ConversationPayload
	if err := decodePayload(raw, &p); err != nil {
		return "", err
	}
	return requireID("conversationId", p.ConversationID)
}

// SendRequest is a validated message:send payload.
type SendRequest struct {
	ConversationID string
	Content        string
	SenderType     string // client value: user, partner or guest
	UserID         string
	UserName       string
	AnonymousID    string
	AnonymousName  string
}

// Anonymous reports whether the message is stored with an anonymous sender.
func (r SendRequest) Anonymous() bool {
	return r.SenderType == v1.SenderTypeGuest && r.AnonymousID != ""
}

// Identity returns the identity the request claims to send as.
func (r SendRequest) Identity() Identity {
	switch {
	case r.Anonymous():
		return GuestIdentity(r.AnonymousID)
	case r.SenderType == v1.SenderTypePartner:
		return PartnerIdentity(r.UserID)
	default:
		return UserIdentity(r.UserID)
	}
}

// Validate checks the request and normalizes whitespace in place.
// Content is stored as sent; only its emptiness is judged on the trimmed text.
func (r *SendRequest) Validate() error {
	var err error
	if r.ConversationID, err = requireID("conversationId", r.ConversationID); err != nil {
		return err
	}

	if strings.TrimSpace(r.Content) == "" {
		return inputErr("content", "missing")
	}
	if utf8.RuneCountInString(r.Content) > maxMessageChars {
		return inputErr("content", "too long")
	}

	r.SenderType = strings.TrimSpace(r.SenderType)
	switch r.SenderType {
	case v1.SenderTypeUser, v1.SenderTypePartner, v1.SenderTypeGuest:
	case "":
		return inputErr("senderType", "missing")
	default:
		return inputErr("senderType", "unsupported")
	}

	r.UserID = strings.TrimSpace(r.UserID)
	r.AnonymousID = strings.TrimSpace(r.AnonymousID)
	r.UserName = clampName(r.UserName)
	r.AnonymousName = clampName(r.AnonymousName)

	if r.Anonymous() {
		if utf8.RuneCountInString(r.AnonymousID) > maxIDChars {
			return inputErr("anonymousId", "too long")
		}
		return nil
	}
	if r.UserID, err = requireID("userId", r.UserID); err != nil {
		return err
	}
	return nil
}

func parseSendRequest(raw json.RawMessage) (SendRequest, error) {
	var p v1.MessageSendPayload
	if err := decodePayload(raw, &p); err != nil {
		return SendRequest{}, err
	}
	req := SendRequest{
		ConversationID: p.ConversationID,
		Content:        p.Content,
		SenderType:     p.SenderType,
		UserID:         p.UserID,
		UserName:       p.UserName,
		AnonymousID:    p.AnonymousID,
		AnonymousName:  p.AnonymousName,
	}
	if err := req.Validate(); err != nil {
		return SendRequest{}, err
	}
	return req, nil
}

// TypingRequest is a validated typing:start payload.
type TypingRequest struct {
	ConversationID string
	DisplayName    string
}

func parseTypingStart(raw json.RawMessage) (TypingRequest, error) {
	var p v1.TypingStartPayload
	if err := decodePayload(raw, &p); err != nil {
		return TypingRequest{}, err
	}
	conv, err := requireID("conversationId", p.ConversationID)
	if err != nil {
		return TypingRequest{}, err
	}
	name := clampName(p.Username)
	if name == "" {
		name = clampName(p.AnonymousName)
	}
	if name == "" {
		name = "Someone"
	}
	return TypingRequest{ConversationID: conv, DisplayName: name}, nil
}
