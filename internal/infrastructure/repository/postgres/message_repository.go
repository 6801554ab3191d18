package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// MessageRepository persists conversations and messages. Message writes are
// outbox writes: the message row and its pending embed job commit in one
// transaction, so a committed version always has a job covering it.
type MessageRepository struct {
	db    *sql.DB
	model string
}

func NewMessageRepository(db *sql.DB, embedModel string) *MessageRepository {
	return &MessageRepository{db: db, model: embedModel}
}

func (r *MessageRepository) EnsureConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO conversations (id, created_at, updated_at)
VALUES ($1, $2, $2)
ON CONFLICT (id) DO NOTHING
`, conversationID, now)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation insert: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
SELECT id, created_at, updated_at
FROM conversations
WHERE id = $1
`, conversationID)

	var conv domain.Conversation
	if err := row.Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("ensure conversation select: %w", err)
	}
	return &conv, nil
}

// createMessageAttempts bounds retries on seq collisions between concurrent
// writers to the same conversation.
const createMessageAttempts = 3

func (r *MessageRepository) CreateMessage(ctx context.Context, conversationID string, role domain.Role, content string) (*domain.Message, error) {
	// Two writers can compute the same MAX(seq)+1; the loser hits the
	// (conversation_id, seq) unique constraint and retries with a fresh max.
	var lastErr error
	for attempt := 0; attempt < createMessageAttempts; attempt++ {
		msg, err := r.createMessage(ctx, conversationID, role, content)
		if err == nil {
			return msg, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("create message: seq contention on conversation %s: %w", conversationID, lastErr)
}

func (r *MessageRepository) createMessage(ctx context.Context, conversationID string, role domain.Role, content string) (*domain.Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "begin write tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	row := tx.QueryRowContext(ctx, `
INSERT INTO messages (id, conversation_id, seq, role, content, version, created_at, updated_at)
VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = $2), $3, $4, 1, $5, $5)
RETURNING seq
`, msg.ID, conversationID, string(role), content, now)
	if err := row.Scan(&msg.Seq); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := enqueueEmbedJob(ctx, tx, msg.ID, r.model, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "commit write tx", err)
	}
	return &msg, nil
}

func (r *MessageRepository) UpdateMessage(ctx context.Context, messageID, content string) (*domain.Message, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrStoreUnavailable, "begin write tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
SELECT id, conversation_id, seq, role, content, version, created_at, updated_at
FROM messages
WHERE id = $1
FOR UPDATE
`, messageID)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, domain.WrapError(domain.ErrNotFound, "update message", fmt.Errorf("message %s", messageID))
		}
		return nil, false, fmt.Errorf("select message for update: %w", err)
	}

	if msg.Content == content {
		// Identical content: no version bump, no job.
		if err := tx.Commit(); err != nil {
			return nil, false, domain.WrapError(domain.ErrStoreUnavailable, "commit write tx", err)
		}
		return &msg, false, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
UPDATE messages
SET content = $2, version = version + 1, updated_at = $3
WHERE id = $1
`, messageID, content, now); err != nil {
		return nil, false, fmt.Errorf("update message: %w", err)
	}

	if err := enqueueEmbedJob(ctx, tx, messageID, r.model, now); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, domain.WrapError(domain.ErrStoreUnavailable, "commit write tx", err)
	}

	msg.Content = content
	msg.Version++
	msg.UpdatedAt = now
	return &msg, true, nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, conversation_id, seq, role, content, version, created_at, updated_at
FROM messages
WHERE id = $1
`, messageID)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get message", fmt.Errorf("message %s", messageID))
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

func (r *MessageRepository) ListConversationSpan(ctx context.Context, conversationID string, fromSeq, toSeq int) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, conversation_id, seq, role, content, version, created_at, updated_at
FROM messages
WHERE conversation_id = $1 AND seq BETWEEN $2 AND $3
ORDER BY seq
`, conversationID, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("list conversation span: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan span message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate span messages: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	var role string
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Seq,
		&role,
		&msg.Content,
		&msg.Version,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Role = domain.Role(role)
	return msg, nil
}
