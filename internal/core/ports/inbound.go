package ports

import (
	"context"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for the retrieval-and-answer pipeline.
type QuestionAnswerer interface {
	// Stream validates the request and starts the pipeline. The returned
	// channel yields events in order and is closed after the terminal event.
	Stream(ctx context.Context, req domain.AskRequest) (<-chan domain.Event, error)
	Ask(ctx context.Context, req domain.AskRequest) (*domain.AskResult, error)
}

// IndexSynchronizer is the inbound contract for full-text index maintenance.
type IndexSynchronizer interface {
	Handle(ctx context.Context, event domain.IndexEvent) error
	Request(ctx context.Context, events []domain.IndexEvent) error
}
