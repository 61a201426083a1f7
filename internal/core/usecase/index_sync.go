package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
)

// IndexSyncUseCase mirrors relational documents into the full-text index.
type IndexSyncUseCase struct {
	metadata ports.MetadataStore
	search   ports.FullTextSearcher
	queue    ports.IndexEventQueue
}

func NewIndexSyncUseCase(metadata ports.MetadataStore, search ports.FullTextSearcher, queue ports.IndexEventQueue) *IndexSyncUseCase {
	return &IndexSyncUseCase{metadata: metadata, search: search, queue: queue}
}

func (uc *IndexSyncUseCase) Handle(ctx context.Context, event domain.IndexEvent) error {
	if event.DocumentID <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "index sync", fmt.Errorf("document_id must be positive"))
	}

	switch event.Operation {
	case domain.IndexUpsert, "":
		doc, err := uc.metadata.GetIndexDocument(ctx, event.DocumentID)
		if err != nil {
			return fmt.Errorf("load document %d: %w", event.DocumentID, err)
		}
		if err := uc.search.Index(ctx, *doc); err != nil {
			return fmt.Errorf("index document %d: %w", event.DocumentID, err)
		}
		return nil
	case domain.IndexDelete:
		if err := uc.search.Delete(ctx, event.DocumentID); err != nil {
			return fmt.Errorf("delete document %d: %w", event.DocumentID, err)
		}
		return nil
	default:
		return domain.WrapError(domain.ErrInvalidInput, "index sync", fmt.Errorf("unknown operation %q", event.Operation))
	}
}

// Request validates and publishes events for the worker.
func (uc *IndexSyncUseCase) Request(ctx context.Context, events []domain.IndexEvent) error {
	if len(events) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "request index sync", fmt.Errorf("no events"))
	}
	if uc.queue == nil {
		return domain.WrapError(domain.ErrTemporary, "request index sync", fmt.Errorf("index queue is not configured"))
	}
	for _, ev := range events {
		if ev.DocumentID <= 0 {
			return domain.WrapError(domain.ErrInvalidInput, "request index sync", fmt.Errorf("document_id must be positive"))
		}
		if ev.Operation != domain.IndexUpsert && ev.Operation != domain.IndexDelete {
			return domain.WrapError(domain.ErrInvalidInput, "request index sync", fmt.Errorf("unknown operation %q", ev.Operation))
		}
	}
	for _, ev := range events {
		if err := uc.queue.PublishIndexEvent(ctx, ev); err != nil {
			return fmt.Errorf("publish index event %d: %w", ev.DocumentID, err)
		}
	}
	return nil
}
