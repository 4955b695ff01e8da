package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"marketchat/cmd/internal/ids"
	"marketchat/cmd/internal/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore and ConversationStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Message inserts take a per-conversation transactional advisory lock so that
//     instances sharing the database insert one conversation's messages in order.
//   - Summary updates are monotonic: an older timestamp never overwrites a newer one.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "marketchat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "marketchat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Schema returns the schema the store reads and writes.
func (s *PostgresStore) Schema() string { return s.schema }

// EnsureSchema creates the schema and the tables the chat core reads and writes.
// Users, conversations and participants are normally owned by the CRUD service;
// this exists for development databases and tests.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	users := pgIdent(s.schema, "users")
	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")
	messages := pgIdent(s.schema, "messages")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  name       TEXT NOT NULL DEFAULT '',
  username   TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  id                   TEXT PRIMARY KEY,
  last_message_content TEXT,
  last_message_sender  TEXT,
  last_message_at      TIMESTAMPTZ,
  created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id  TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  participant_type TEXT NOT NULL CHECK (participant_type IN ('user', 'partner', 'guest')),
  participant_id   TEXT NOT NULL,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (conversation_id, participant_type, participant_id)
);

CREATE TABLE IF NOT EXISTS %s (
  id              TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  content         TEXT NOT NULL,
  sender_type     TEXT NOT NULL CHECK (sender_type IN ('user', 'anonymous')),
  sender_id       TEXT,
  anonymous_id    TEXT,
  anonymous_name  TEXT,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_messages_content_len CHECK (char_length(content) > 0 AND char_length(content) <= 4000),
  CONSTRAINT chk_messages_one_sender CHECK (
    (sender_type = 'user' AND sender_id IS NOT NULL AND anonymous_id IS NULL) OR
    (sender_type = 'anonymous' AND sender_id IS NULL AND anonymous_id IS NOT NULL)
  )
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
  ON %s (conversation_id, created_at ASC);
`, pgx.Identifier{s.schema}.Sanitize(), users, conversations, participants, conversations, messages, conversations, messages)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateMessage inserts a message and returns it with its server id and timestamp.
func (s *PostgresStore) CreateMessage(ctx context.Context, m NewMessage) (StoredMessage, error) {
	defer observeStore("create_message", time.Now())

	if err := m.Validate(); err != nil {
		return StoredMessage{}, err
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	now := m.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return StoredMessage{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return StoredMessage{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, m.ConversationID); err != nil {
		return StoredMessage{}, fmt.Errorf("advisory lock: %w", err)
	}

	var senderID, anonID, anonName *string
	if m.SenderID != "" {
		senderID = &m.SenderID
	}
	if m.Anonymous != nil {
		anonID, anonName = &m.Anonymous.ID, &m.Anonymous.Name
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "messages")+` (
		     id, conversation_id, content, sender_type, sender_id, anonymous_id, anonymous_name, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, m.ConversationID, m.Content, m.SenderType, senderID, anonID, anonName, now,
	); err != nil {
		return StoredMessage{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return StoredMessage{}, err
	}

	out := StoredMessage{
		ID:             id,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		SenderType:     m.SenderType,
		SenderID:       m.SenderID,
		CreatedAt:      now,
	}
	if m.Anonymous != nil {
		a := *m.Anonymous
		out.Anonymous = &a
	}
	return out, nil
}

// FindMessage loads a message with its sender profile joined from users.
func (s *PostgresStore) FindMessage(ctx context.Context, id string) (StoredMessage, error) {
	defer observeStore("find_message", time.Now())

	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	var (
		m                      StoredMessage
		senderID               *string
		anonID, anonName       *string
		userID, name, username *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT m.id, m.conversation_id, m.content, m.sender_type, m.sender_id,
		        m.anonymous_id, m.anonymous_name, m.created_at,
		        u.id, u.name, u.username
		   FROM `+pgIdent(s.schema, "messages")+` m
		   LEFT JOIN `+pgIdent(s.schema, "users")+` u ON u.id = m.sender_id
		  WHERE m.id = $1`,
		id,
	).Scan(
		&m.ID, &m.ConversationID, &m.Content, &m.SenderType, &senderID,
		&anonID, &anonName, &m.CreatedAt,
		&userID, &name, &username,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return StoredMessage{}, err
	}

	m.CreatedAt = m.CreatedAt.UTC()
	if senderID != nil {
		m.SenderID = *senderID
	}
	if anonID != nil {
		m.Anonymous = &AnonymousSender{ID: *anonID, Name: deref(anonName)}
	}
	if userID != nil {
		m.Sender = &SenderProfile{ID: *userID, Name: deref(name), Username: deref(username)}
	}
	return m, nil
}

// UpdateLastMessage overwrites the conversation summary unless a newer one is stored.
func (s *PostgresStore) UpdateLastMessage(ctx context.Context, conversationID string, last LastMessage) error {
	defer observeStore("update_last_message", time.Now())

	if conversationID == "" {
		return inputErr("conversationId", "missing")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conversations := pgIdent(s.schema, "conversations")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+conversations+`
		    SET last_message_content = $2,
		        last_message_sender = $3,
		        last_message_at = $4,
		        updated_at = now()
		  WHERE id = $1
		    AND (last_message_at IS NULL OR last_message_at <= $4)`,
		conversationID, last.Content, last.Sender, last.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Either the conversation is missing or a newer summary is already stored.
	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM `+conversations+` WHERE id = $1`, conversationID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConversationNotFound
	}
	return err
}

// LastMessage returns the stored conversation summary.
func (s *PostgresStore) LastMessage(ctx context.Context, conversationID string) (LastMessage, bool, error) {
	var content, sender *string
	var at *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_message_content, last_message_sender, last_message_at
		   FROM `+pgIdent(s.schema, "conversations")+`
		  WHERE id = $1`,
		conversationID,
	).Scan(&content, &sender, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return LastMessage{}, false, ErrConversationNotFound
	}
	if err != nil {
		return LastMessage{}, false, err
	}
	if at == nil {
		return LastMessage{}, false, nil
	}
	return LastMessage{Content: deref(content), Sender: deref(sender), Timestamp: at.UTC()}, true, nil
}

// IsParticipant checks conversation_participants. Users and partners share an id
// namespace, so either participant type matches a user or partner identity.
func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID string, id Identity) (bool, error) {
	defer observeStore("is_participant", time.Now())

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || id.IsZero() {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	types := []string{string(UserTypeUser), string(UserTypePartner)}
	if id.IsGuest() {
		types = []string{string(UserTypeGuest)}
	}

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+pgIdent(s.schema, "conversation_participants")+`
		  WHERE conversation_id = $1 AND participant_id = $2 AND participant_type = ANY($3)
		  LIMIT 1`,
		conversationID, id.ID, types,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func observeStore(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
