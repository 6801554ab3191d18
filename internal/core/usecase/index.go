package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
	"github.com/kirillkom/conversation-archive/internal/core/ports"
)

// IndexMessageUseCase handles one embed-message job: load the message, skip
// if the stored embedding is already fresh, otherwise embed and upsert.
// Re-running the same job is safe because the upsert is keyed by
// (message, model).
type IndexMessageUseCase struct {
	messages   ports.MessageStore
	embeddings ports.EmbeddingStore
	embedder   ports.Embedder
}

func NewIndexMessageUseCase(
	messages ports.MessageStore,
	embeddings ports.EmbeddingStore,
	embedder ports.Embedder,
) *IndexMessageUseCase {
	return &IndexMessageUseCase{
		messages:   messages,
		embeddings: embeddings,
		embedder:   embedder,
	}
}

func (uc *IndexMessageUseCase) Process(ctx context.Context, job domain.Job) error {
	payload, err := domain.ParseEmbedPayload(job.Payload)
	if err != nil {
		return err
	}

	msg, err := uc.messages.GetMessage(ctx, payload.MessageID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			// Message deleted after the job was enqueued.
			return domain.WrapError(domain.ErrPermanent, "load message", err)
		}
		return fmt.Errorf("load message: %w", err)
	}

	existing, err := uc.embeddings.Get(ctx, msg.ID, payload.Model)
	if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return fmt.Errorf("load embedding: %w", err)
	}
	if existing != nil && !existing.StaleFor(*msg) {
		// A job for a newer version already completed; nothing to do.
		return nil
	}

	vector, err := uc.embedder.EmbedQuery(ctx, msg.Content)
	if err != nil {
		return fmt.Errorf("embed message: %w", err)
	}

	// Stamp with the message's updated_at so a concurrent content update
	// still reads as stale and gets re-embedded by its own job.
	emb := domain.Embedding{
		MessageID: msg.ID,
		Model:     payload.Model,
		Vector:    vector,
		UpdatedAt: msg.UpdatedAt,
	}
	if err := uc.embeddings.Upsert(ctx, emb); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}
