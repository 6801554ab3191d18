package ports

import (
	"context"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

// MessageStore persists conversations and messages. CreateMessage and
// UpdateMessage commit the message row and its pending indexing job in one
// transaction (outbox): a committed message version always has a job covering
// that version or later.
type MessageStore interface {
	EnsureConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	CreateMessage(ctx context.Context, conversationID string, role domain.Role, content string) (*domain.Message, error)
	// UpdateMessage returns changed=false and enqueues nothing when content
	// is identical to the stored version.
	UpdateMessage(ctx context.Context, messageID, content string) (msg *domain.Message, changed bool, err error)
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	// ListConversationSpan returns messages of one conversation with
	// fromSeq <= seq <= toSeq, ordered by seq ascending.
	ListConversationSpan(ctx context.Context, conversationID string, fromSeq, toSeq int) ([]domain.Message, error)
}

// JobStore is the durable work queue. Claimed jobs hold a lease; a claim
// never returns a job already claimed by a concurrent caller.
type JobStore interface {
	ClaimBatch(ctx context.Context, kind string, limit int) ([]domain.Job, error)
	Complete(ctx context.Context, jobID string) error
	// Fail with retry=true reschedules with exponential backoff derived
	// from the job's attempt count; with retry=false the job is terminally
	// failed and kept for inspection.
	Fail(ctx context.Context, job domain.Job, errMsg string, retry bool) error
	// ReclaimExpired returns running jobs with an expired lease to pending
	// and reports how many were reclaimed.
	ReclaimExpired(ctx context.Context) (int, error)
}

// EmbeddingStore persists message vectors keyed by (message, model), so a
// re-run of the same job overwrites instead of duplicating.
type EmbeddingStore interface {
	Upsert(ctx context.Context, emb domain.Embedding) error
	Get(ctx context.Context, messageID, model string) (*domain.Embedding, error)
}

// SearchIndex runs the two relevance channels over archived messages.
type SearchIndex interface {
	SearchLexical(ctx context.Context, query string, limit int) ([]domain.Fragment, error)
	SearchVector(ctx context.Context, vector []float32, model string, limit int) ([]domain.Fragment, error)
}

// Embedder builds vectors for message content and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// WakeQueue carries best-effort nudges from the writer to the workers so a
// fresh job is picked up before the next poll tick. The job table stays the
// source of truth; losing a nudge only delays processing.
type WakeQueue interface {
	PublishJobEnqueued(ctx context.Context, kind string) error
	SubscribeJobEnqueued(ctx context.Context, handler func(context.Context, string) error) error
}
