package realtime

import (
	"context"
	"time"

	v1 "marketchat/shared/contracts/chat/v1"
)

// Stored sender types.
const (
	SenderTypeUser      = v1.StoredSenderUser
	SenderTypeAnonymous = v1.StoredSenderAnonymous
)

// SenderProfile is the populated identity of a registered sender.
type SenderProfile struct {
	ID       string
	Name     string
	Username string
}

// AnonymousSender identifies a guest author.
type AnonymousSender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewMessage is a message about to be persisted.
// Exactly one of SenderID / Anonymous is set, as selected by SenderType.
type NewMessage struct {
	ConversationID string
	Content        string
	SenderType     string
	SenderID       string
	Anonymous      *AnonymousSender
	CreatedAt      time.Time
}

// Validate enforces the sender invariant.
func (m NewMessage) Validate() error {
	if m.ConversationID == "" {
		return inputErr("conversationId", "missing")
	}
	if m.Content == "" {
		return inputErr("content", "missing")
	}
	switch m.SenderType {
	case SenderTypeUser:
		if m.SenderID == "" || m.Anonymous != nil {
			return inputErr("sender", "user message needs sender and no anonymousSender")
		}
	case SenderTypeAnonymous:
		if m.SenderID != "" || m.Anonymous == nil || m.Anonymous.ID == "" {
			return inputErr("sender", "anonymous message needs anonymousSender and no sender")
		}
	default:
		return inputErr("senderType", "unsupported")
	}
	return nil
}

// StoredMessage is the canonical persisted message representation.
// Sender is only populated by FindMessage and only when the sender is known.
type StoredMessage struct {
	ID             string
	ConversationID string
	Content        string
	SenderType     string
	SenderID       string
	Sender         *SenderProfile
	Anonymous      *AnonymousSender
	CreatedAt      time.Time
}

// View converts the stored message into its wire form.
func (m StoredMessage) View() v1.MessageView {
	out := v1.MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		SenderType:     m.SenderType,
		CreatedAt:      m.CreatedAt,
	}
	switch {
	case m.Anonymous != nil:
		out.AnonymousSender = &v1.AnonymousSender{ID: m.Anonymous.ID, Name: m.Anonymous.Name}
	case m.Sender != nil:
		out.Sender = &v1.SenderView{ID: m.Sender.ID, Name: m.Sender.Name, Username: m.Sender.Username}
	case m.SenderID != "":
		out.Sender = &v1.SenderView{ID: m.SenderID}
	}
	return out
}

// LastMessage is the denormalized summary stored on a conversation.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
}

// MessageStore persists and reads chat messages.
type MessageStore interface {
	// CreateMessage persists m and returns it with server-assigned id and timestamp.
	CreateMessage(ctx context.Context, m NewMessage) (StoredMessage, error)
	// FindMessage returns a message with its sender populated; ErrMessageNotFound if absent.
	FindMessage(ctx context.Context, id string) (StoredMessage, error)
	Close() error
}

// ConversationStore is the slice of the conversation collection the chat core touches.
type ConversationStore interface {
	// UpdateLastMessage overwrites the summary unless a newer one is already stored.
	// It returns ErrConversationNotFound when the conversation does not exist.
	UpdateLastMessage(ctx context.Context, conversationID string, last LastMessage) error
	// IsParticipant reports whether id takes part in the conversation.
	IsParticipant(ctx context.Context, conversationID string, id Identity) (bool, error)
}
