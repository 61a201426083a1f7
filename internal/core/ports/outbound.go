package ports

import (
	"context"
	"time"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

// LanguageModel is the completion service used by every LLM-backed stage.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteJSON asks for a single JSON document and returns its raw text.
	CompleteJSON(ctx context.Context, prompt string) (string, error)
}

// FullTextSearcher queries and maintains the full-text index.
type FullTextSearcher interface {
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.DocumentCandidate, error)
	Index(ctx context.Context, doc domain.IndexDocument) error
	Delete(ctx context.Context, documentID int64) error
}

// MetadataStore is read access to templates, type schemas and document rows.
type MetadataStore interface {
	GetTemplate(ctx context.Context, scopeID int64) (*domain.Template, error)
	GetDocumentType(ctx context.Context, scopeID int64, typeCode string) (*domain.DocumentType, error)
	FindDocumentIDs(ctx context.Context, scopeID int64, values []string, limit int) ([]int64, error)
	LoadDocuments(ctx context.Context, ids []int64) ([]domain.DocumentCandidate, error)
	LoadSummaries(ctx context.Context, ids []int64) (map[int64]string, error)
	GetIndexDocument(ctx context.Context, documentID int64) (*domain.IndexDocument, error)
}

// ToolExecutor runs the auxiliary lookups offered to the planner.
type ToolExecutor interface {
	Tools() []domain.ToolSpec
	Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// SessionStore keeps paused retrieval states until resumed or expired.
type SessionStore interface {
	Save(ctx context.Context, state *domain.RetrievalState) error
	Load(ctx context.Context, sessionID string) (*domain.RetrievalState, error)
	Delete(ctx context.Context, sessionID string) error
}

// IndexEventQueue publishes/consumes index synchronisation events.
type IndexEventQueue interface {
	PublishIndexEvent(ctx context.Context, event domain.IndexEvent) error
	SubscribeIndexEvents(ctx context.Context, handler func(context.Context, domain.IndexEvent) error) error
}

// PipelineObserver receives pipeline measurements.
type PipelineObserver interface {
	ObserveStage(stage domain.Stage, duration time.Duration, degraded bool)
	ObserveFusion(strategy domain.FusionStrategy, count int)
	ObserveDedup(removed int)
	ObserveOutcome(outcome string)
}
