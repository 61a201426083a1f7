package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
)

const relevanceSnippetRunes = 300

// RelevanceFilter lets the model drop candidates that do not answer the query.
type RelevanceFilter struct {
	llm      ports.LanguageModel
	metadata ports.MetadataStore
	timeout  time.Duration
}

func NewRelevanceFilter(llm ports.LanguageModel, metadata ports.MetadataStore, timeout time.Duration) *RelevanceFilter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RelevanceFilter{llm: llm, metadata: metadata, timeout: timeout}
}

type relevanceResponse struct {
	RelevantIDs *idList `json:"relevant_ids"`
	Reason      string  `json:"reason"`
}

// Filter returns a subset of docs in their original order. Failures keep
// every document.
func (f *RelevanceFilter) Filter(ctx context.Context, session domain.QuerySession, query string, docs []domain.DocumentCandidate) *domain.RelevanceOutput {
	if len(docs) <= 1 {
		return &domain.RelevanceOutput{Documents: docs, Skipped: true}
	}
	keepAll := func(reason string) *domain.RelevanceOutput {
		return &domain.RelevanceOutput{Documents: docs, Reason: reason, Skipped: true}
	}

	summaries := summariesFromDocs(docs)
	sumCtx, cancel := context.WithTimeout(ctx, f.timeout)
	stored, err := f.metadata.LoadSummaries(sumCtx, candidateIDs(docs))
	cancel()
	if err != nil {
		slog.Warn("relevance_summaries_unavailable", "session_id", session.SessionID, "error", err)
	} else {
		for id, s := range stored {
			if strings.TrimSpace(s) != "" {
				summaries[id] = s
			}
		}
	}

	llmCtx, cancel := context.WithTimeout(ctx, f.timeout)
	raw, err := f.llm.CompleteJSON(llmCtx, buildRelevancePrompt(query, docs, summaries, relevanceSnippetRunes))
	cancel()
	if err != nil {
		slog.Warn("relevance_filter_degraded", "session_id", session.SessionID, "error", err)
		return keepAll("relevance check unavailable")
	}

	var resp relevanceResponse
	if err := decodeModelJSON(raw, &resp); err != nil || resp.RelevantIDs == nil {
		slog.Warn("relevance_filter_degraded", "session_id", session.SessionID, "error", err)
		return keepAll("relevance check returned no decision")
	}

	keep := idSet(*resp.RelevantIDs)
	out := make([]domain.DocumentCandidate, 0, len(docs))
	for _, doc := range docs {
		if _, ok := keep[doc.DocumentID]; ok {
			out = append(out, doc)
		}
	}
	return &domain.RelevanceOutput{Documents: out, Reason: strings.TrimSpace(resp.Reason)}
}

func summariesFromDocs(docs []domain.DocumentCandidate) map[int64]string {
	out := make(map[int64]string, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Summary) != "" {
			out[d.DocumentID] = d.Summary
		}
	}
	return out
}
