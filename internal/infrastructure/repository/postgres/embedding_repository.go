package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

// EmbeddingRepository persists message vectors keyed by (message, model);
// the upsert makes re-running an indexing job idempotent.
type EmbeddingRepository struct {
	db *sql.DB
}

func NewEmbeddingRepository(db *sql.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

func (r *EmbeddingRepository) Upsert(ctx context.Context, emb domain.Embedding) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO embeddings (message_id, model, vector, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (message_id, model) DO UPDATE
SET vector = EXCLUDED.vector, updated_at = EXCLUDED.updated_at
`, emb.MessageID, emb.Model, pgvector.NewVector(emb.Vector), emb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

func (r *EmbeddingRepository) Get(ctx context.Context, messageID, model string) (*domain.Embedding, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT message_id, model, vector, updated_at
FROM embeddings
WHERE message_id = $1 AND model = $2
`, messageID, model)

	var emb domain.Embedding
	var vec pgvector.Vector
	err := row.Scan(&emb.MessageID, &emb.Model, &vec, &emb.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get embedding",
				fmt.Errorf("message %s model %s", messageID, model))
		}
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	emb.Vector = vec.Slice()
	return &emb, nil
}
