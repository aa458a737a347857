package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/V4T54L/msgtap/internal/domain"
)

// IngestMutationUseCase feeds externally produced changes into the host
// conversation graph, where the message logger observes them.
type IngestMutationUseCase struct {
	host   domain.MutationApplier
	logger *slog.Logger
}

// NewIngestMutationUseCase creates a new IngestMutationUseCase.
func NewIngestMutationUseCase(host domain.MutationApplier, logger *slog.Logger) *IngestMutationUseCase {
	return &IngestMutationUseCase{
		host:   host,
		logger: logger,
	}
}

// Ingest assigns ids to messages that lack one and applies the mutation.
func (uc *IngestMutationUseCase) Ingest(ctx context.Context, m *domain.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", domain.ErrInvalidMutation)
	}

	for i := range m.Messages {
		if m.Messages[i].ID == "" {
			m.Messages[i].ID = uuid.NewString()
		}
	}

	if err := uc.host.Apply(*m); err != nil {
		uc.logger.Error("failed to apply mutation", "error", err, "conversation_id", m.ConversationID)
		return err
	}
	uc.logger.Debug("applied mutation",
		"conversation_id", m.ConversationID,
		"messages", len(m.Messages),
		"deleted", len(m.DeleteMessageIDs),
		"clear", m.Clear)
	return nil
}
