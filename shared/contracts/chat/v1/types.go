package v1

import "time"

// Sender type values as sent by clients on message:send.
const (
	SenderTypeUser    = "user"
	SenderTypePartner = "partner"
	SenderTypeGuest   = "guest"
)

// Stored sender type values as returned in message:received.
const (
	StoredSenderUser      = "user"
	StoredSenderAnonymous = "anonymous"
)

// ---- inbound payloads ----

// UserJoinPayload binds the connection to a registered user.
type UserJoinPayload struct {
	UserID string `json:"userId"`
}

// PartnerJoinPayload binds the connection to a partner (seller).
type PartnerJoinPayload struct {
	PartnerID string `json:"partnerId"`
}

// GuestJoinPayload binds the connection to an anonymous guest.
type GuestJoinPayload struct {
	AnonymousID string `json:"anonymousId"`
}

// ConversationPayload is used by conversation:join, conversation:leave, typing:stop
// and their acknowledgements.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessageSendPayload requests persisting and broadcasting a message.
type MessageSendPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	SenderType     string `json:"senderType"`
	UserID         string `json:"userId,omitempty"`
	UserName       string `json:"userName,omitempty"`
	AnonymousID    string `json:"anonymousId,omitempty"`
	AnonymousName  string `json:"anonymousName,omitempty"`
}

// TypingStartPayload announces that the sender started typing.
type TypingStartPayload struct {
	ConversationID string `json:"conversationId"`
	Username       string `json:"username,omitempty"`
	AnonymousName  string `json:"anonymousName,omitempty"`
}

// ---- outbound payloads ----

// PresencePayload is carried by user:online and user:offline.
type PresencePayload struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
}

// SenderView is the populated sender identity of a stored message.
type SenderView struct {
	ID       string `json:"_id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// AnonymousSender identifies a guest author.
type AnonymousSender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageView is the fully populated message broadcast to conversation members.
type MessageView struct {
	ID              string           `json:"_id"`
	ConversationID  string           `json:"conversationId"`
	Content         string           `json:"content"`
	SenderType      string           `json:"senderType"`
	Sender          *SenderView      `json:"sender,omitempty"`
	AnonymousSender *AnonymousSender `json:"anonymousSender,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// MessageReceivedPayload is broadcast after a message was persisted.
type MessageReceivedPayload struct {
	Message        MessageView `json:"message"`
	ConversationID string      `json:"conversationId"`
}

// MessageErrorPayload reports a failed message:send to the sender.
type MessageErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// TypingActivePayload is broadcast to the other members of a conversation.
type TypingActivePayload struct {
	Username       string `json:"username"`
	ConversationID string `json:"conversationId"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
