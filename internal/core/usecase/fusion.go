package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
)

// fuseChannels picks a fusion strategy from the overlap of the two id lists.
// Full-text order is the relevance order wherever both channels contribute.
func fuseChannels(fullText, structured []int64, intersectionMin, maxResults int) domain.FusionResult {
	a := uniqueIDs(fullText)
	b := uniqueIDs(structured)

	var result domain.FusionResult
	switch {
	case len(a) == 0 && len(b) == 0:
		return domain.FusionResult{DocumentIDs: []int64{}, Strategy: domain.FusionNone}
	case len(b) == 0:
		result = domain.FusionResult{DocumentIDs: a, Strategy: domain.FusionFullTextOnly}
	case len(a) == 0:
		result = domain.FusionResult{DocumentIDs: b, Strategy: domain.FusionStructuredOnly}
	default:
		inB := idSet(b)
		intersection := make([]int64, 0, len(a))
		fullTextOnly := make([]int64, 0, len(a))
		for _, id := range a {
			if _, ok := inB[id]; ok {
				intersection = append(intersection, id)
			} else {
				fullTextOnly = append(fullTextOnly, id)
			}
		}

		switch {
		case len(intersection) >= intersectionMin:
			result = domain.FusionResult{DocumentIDs: intersection, Strategy: domain.FusionIntersection}
		case len(intersection) > 0:
			result = domain.FusionResult{
				DocumentIDs: append(intersection, fullTextOnly...),
				Strategy:    domain.FusionFullTextFirst,
			}
		default:
			union := append([]int64{}, a...)
			union = append(union, b...)
			result = domain.FusionResult{DocumentIDs: union, Strategy: domain.FusionUnion}
		}
	}

	if maxResults > 0 && len(result.DocumentIDs) > maxResults {
		result.DocumentIDs = result.DocumentIDs[:maxResults]
	}
	return result
}

func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ResultFuser fuses channel ids and loads the documents in fused order.
type ResultFuser struct {
	metadata        ports.MetadataStore
	intersectionMin int
	maxResults      int
	timeout         time.Duration
}

func NewResultFuser(metadata ports.MetadataStore, intersectionMin, maxResults int, timeout time.Duration) *ResultFuser {
	if intersectionMin <= 0 {
		intersectionMin = 3
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ResultFuser{
		metadata:        metadata,
		intersectionMin: intersectionMin,
		maxResults:      maxResults,
		timeout:         timeout,
	}
}

// Fuse combines the channels and loads the fused documents. A positive topK
// caps the fused list below the configured maximum.
func (f *ResultFuser) Fuse(ctx context.Context, session domain.QuerySession, channels *domain.ChannelOutput, topK int) *domain.FusionOutput {
	if channels == nil {
		channels = &domain.ChannelOutput{}
	}
	limit := f.maxResults
	if topK > 0 && topK < limit {
		limit = topK
	}
	result := fuseChannels(channels.FullTextIDs, channels.StructuredIDs, f.intersectionMin, limit)
	out := &domain.FusionOutput{Result: result, Documents: []domain.DocumentCandidate{}}
	if len(result.DocumentIDs) == 0 {
		return out
	}

	loadCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	docs, err := f.metadata.LoadDocuments(loadCtx, result.DocumentIDs)
	if err != nil {
		// Full-text hits already carry content; use them for the ids they cover.
		slog.Warn("fusion_load_failed", "session_id", session.SessionID, "error", err)
		docs = channels.FullTextDocs
	}
	out.Documents = orderByIDs(docs, result.DocumentIDs)
	return out
}

// orderByIDs returns the docs whose ids appear in ids, in ids order.
func orderByIDs(docs []domain.DocumentCandidate, ids []int64) []domain.DocumentCandidate {
	byID := make(map[int64]domain.DocumentCandidate, len(docs))
	for _, d := range docs {
		if _, ok := byID[d.DocumentID]; !ok {
			byID[d.DocumentID] = d
		}
	}
	out := make([]domain.DocumentCandidate, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out
}
