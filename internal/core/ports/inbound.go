package ports

import (
	"context"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

// MessageWriter is the inbound contract for archiving message turns.
type MessageWriter interface {
	Write(ctx context.Context, conversationID string, role domain.Role, content string) (*domain.Message, error)
	Update(ctx context.Context, messageID, content string) (*domain.Message, error)
}

// Searcher is the inbound contract for ranked fragment search.
type Searcher interface {
	Search(ctx context.Context, query string, mode domain.SearchMode, limit int) ([]domain.Fragment, error)
}

// ContextRetriever is the inbound contract for RAG context assembly.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, topKWindows, tokenBudget int) ([]domain.ContextWindow, error)
}

// JobProcessor handles one claimed job; the worker pool resolves the job's
// status from the returned error class.
type JobProcessor interface {
	Process(ctx context.Context, job domain.Job) error
}
