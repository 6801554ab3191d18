package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
	"github.com/kirillkom/conversation-archive/internal/core/ports"
)

// WriteMessageUseCase archives message turns. The store commits the message
// and its pending indexing job in one transaction; after commit a best-effort
// wake nudge is published so workers pick the job up before the next poll.
type WriteMessageUseCase struct {
	store ports.MessageStore
	wake  ports.WakeQueue
}

func NewWriteMessageUseCase(store ports.MessageStore, wake ports.WakeQueue) *WriteMessageUseCase {
	return &WriteMessageUseCase{store: store, wake: wake}
}

func (uc *WriteMessageUseCase) Write(ctx context.Context, conversationID string, role domain.Role, content string) (*domain.Message, error) {
	if err := validateWrite(conversationID, role, content); err != nil {
		return nil, err
	}

	if _, err := uc.store.EnsureConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}

	msg, err := uc.store.CreateMessage(ctx, conversationID, role, content)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	uc.nudgeWorkers(ctx)
	return msg, nil
}

func (uc *WriteMessageUseCase) Update(ctx context.Context, messageID, content string) (*domain.Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "update message", errors.New("empty message id"))
	}
	if strings.TrimSpace(content) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "update message", errors.New("empty content"))
	}

	msg, changed, err := uc.store.UpdateMessage(ctx, messageID, content)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if changed {
		uc.nudgeWorkers(ctx)
	}
	return msg, nil
}

func (uc *WriteMessageUseCase) nudgeWorkers(ctx context.Context) {
	if uc.wake == nil {
		return
	}
	if err := uc.wake.PublishJobEnqueued(ctx, domain.JobKindEmbedMessage); err != nil {
		// Workers poll the job table anyway; a lost nudge only adds latency.
		slog.Warn("wake publish failed", "error", err)
	}
}

func validateWrite(conversationID string, role domain.Role, content string) error {
	if strings.TrimSpace(conversationID) == "" {
		return domain.WrapError(domain.ErrValidation, "write message", errors.New("empty conversation id"))
	}
	if !role.Valid() {
		return domain.WrapError(domain.ErrValidation, "write message", fmt.Errorf("unknown role %q", role))
	}
	if strings.TrimSpace(content) == "" {
		return domain.WrapError(domain.ErrValidation, "write message", errors.New("empty content"))
	}
	return nil
}
