package ports

import (
	"context"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

// AskService is the inbound contract for retrieval-augmented answering.
// Ask blocks until the full answer is available. AskStream returns an
// ordered event sequence: one Sources event, zero or more Delta events,
// then exactly one Done or Failed. The channel is closed after the
// terminal event and the sequence is not replayable.
type AskService interface {
	Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error)
	AskStream(ctx context.Context, req domain.AskRequest) <-chan domain.StreamEvent
}
