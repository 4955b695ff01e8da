package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketchat/cmd/internal/metrics"
	v1 "marketchat/shared/contracts/chat/v1"
)

const (
	defaultGuestName = "Guest"
	defaultUserName  = "User"
)

// Ingestor runs the message pipeline: persist, refresh the conversation
// summary, then broadcast to the conversation room.
//
// One conversation is processed at a time so that broadcast order matches the
// order in which summaries are written.
type Ingestor struct {
	log           *slog.Logger
	messages      MessageStore
	conversations ConversationStore
	hub           *Hub
	reconciler    *Reconciler
	storeTimeout  time.Duration
	locks         *keyedMutex
	now           func() time.Time
}

// NewIngestor constructs an Ingestor. reconciler may be nil, in which case a
// failed summary update is only logged.
func NewIngestor(log *slog.Logger, messages MessageStore, conversations ConversationStore, hub *Hub, reconciler *Reconciler, timeout time.Duration) *Ingestor {
	if timeout <= 0 {
		timeout = storeTimeout
	}
	return &Ingestor{
		log:           log,
		messages:      messages,
		conversations: conversations,
		hub:           hub,
		reconciler:    reconciler,
		storeTimeout:  timeout,
		locks:         newKeyedMutex(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PersistError reports that the message could not be stored. Nothing was broadcast.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string { return "persist message: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// Ingest stores req and fans the populated message out to the conversation room.
// A failed summary update does not fail the call; the repair is handed to the reconciler.
func (in *Ingestor) Ingest(ctx context.Context, req SendRequest) (StoredMessage, error) {
	if err := req.Validate(); err != nil {
		metrics.IngestFailures.WithLabelValues("validate").Inc()
		return StoredMessage{}, err
	}

	unlock := in.locks.Lock(req.ConversationID)
	defer unlock()

	nm := NewMessage{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		CreatedAt:      in.now(),
	}
	if req.Anonymous() {
		name := req.AnonymousName
		if name == "" {
			name = defaultGuestName
		}
		nm.SenderType = SenderTypeAnonymous
		nm.Anonymous = &AnonymousSender{ID: req.AnonymousID, Name: name}
	} else {
		nm.SenderType = SenderTypeUser
		nm.SenderID = req.UserID
	}

	stored, err := in.create(ctx, nm)
	if err != nil {
		metrics.IngestFailures.WithLabelValues("persist").Inc()
		in.log.Warn("ingest.persist.fail", "conversation_id", req.ConversationID, "err", err)
		return StoredMessage{}, &PersistError{Err: err}
	}
	metrics.MessagesPersisted.WithLabelValues(stored.SenderType).Inc()

	populated, err := in.find(ctx, stored.ID)
	if err != nil {
		metrics.IngestFailures.WithLabelValues("resolve_name").Inc()
		in.log.Warn("ingest.populate.fail", "conversation_id", req.ConversationID, "message_id", stored.ID, "err", err)
		populated = stored
	}

	last := LastMessage{
		Content:   populated.Content,
		Timestamp: in.now(),
		Sender:    resolveDisplayName(req, populated),
	}
	if err := in.updateSummary(ctx, req.ConversationID, last); err != nil {
		metrics.IngestFailures.WithLabelValues("summary").Inc()
		switch {
		case errors.Is(err, ErrConversationNotFound):
			in.log.Warn("ingest.summary.unknown_conversation", "conversation_id", req.ConversationID)
		case in.reconciler != nil:
			in.log.Warn("ingest.summary.fail", "conversation_id", req.ConversationID, "err", err)
			in.reconciler.Enqueue(ReconcileJob{ConversationID: req.ConversationID, Last: last})
		default:
			in.log.Error("ingest.summary.fail", "conversation_id", req.ConversationID, "err", err)
		}
	}

	env := newEnvelope(v1.TypeMessageReceived, v1.MessageReceivedPayload{
		Message:        populated.View(),
		ConversationID: req.ConversationID,
	}, in.now())
	n := in.hub.Broadcast(ConversationRoom(req.ConversationID), env)

	in.log.Debug("ingest.ok",
		"conversation_id", req.ConversationID,
		"message_id", populated.ID,
		"sender_type", populated.SenderType,
		"delivered", n,
	)
	return populated, nil
}

func (in *Ingestor) create(ctx context.Context, nm NewMessage) (StoredMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, in.storeTimeout)
	defer cancel()
	return in.messages.CreateMessage(ctx, nm)
}

func (in *Ingestor) find(ctx context.Context, id string) (StoredMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, in.storeTimeout)
	defer cancel()
	return in.messages.FindMessage(ctx, id)
}

func (in *Ingestor) updateSummary(ctx context.Context, conversationID string, last LastMessage) error {
	ctx, cancel := context.WithTimeout(ctx, in.storeTimeout)
	defer cancel()
	if err := in.conversations.UpdateLastMessage(ctx, conversationID, last); err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return nil
}

// resolveDisplayName picks the summary sender name:
// anonymousName, userName, sender name, sender username, then "User".
func resolveDisplayName(req SendRequest, m StoredMessage) string {
	if req.Anonymous() && req.AnonymousName != "" {
		return req.AnonymousName
	}
	if req.UserName != "" {
		return req.UserName
	}
	if m.Sender != nil {
		if m.Sender.Name != "" {
			return m.Sender.Name
		}
		if m.Sender.Username != "" {
			return m.Sender.Username
		}
	}
	return defaultUserName
}
