package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
)

const (
	refineSkipNoDocuments  = "no_documents"
	refineSkipNoCategory   = "no_category"
	refineSkipTypeUnknown  = "type_unavailable"
	refineSkipExtraction   = "extraction_failed"
	refineSkipNoConditions = "no_conditions"
	refineSkipSearchFailed = "search_failed"
)

// RefinementFilter narrows the fused set with type-specific field
// predicates, or flags the query as ambiguous.
type RefinementFilter struct {
	llm        ports.LanguageModel
	metadata   ports.MetadataStore
	search     ports.FullTextSearcher
	maxResults int
	timeout    time.Duration
}

func NewRefinementFilter(
	llm ports.LanguageModel,
	metadata ports.MetadataStore,
	search ports.FullTextSearcher,
	maxResults int,
	timeout time.Duration,
) *RefinementFilter {
	if maxResults <= 0 {
		maxResults = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RefinementFilter{
		llm:        llm,
		metadata:   metadata,
		search:     search,
		maxResults: maxResults,
		timeout:    timeout,
	}
}

type refineResponse struct {
	Conditions    map[string]any `json:"conditions"`
	MissingFields []string       `json:"missing_fields"`
}

// Refine returns at most as many documents as it was given, all from fused.
func (f *RefinementFilter) Refine(ctx context.Context, session domain.QuerySession, query, category string, fused []domain.DocumentCandidate) *domain.RefinementOutput {
	skip := func(reason string) *domain.RefinementOutput {
		return &domain.RefinementOutput{SkipReason: reason, Documents: fused}
	}
	if len(fused) == 0 {
		return skip(refineSkipNoDocuments)
	}
	category = strings.TrimSpace(category)
	if category == "" || category == domain.WildcardCategory {
		return skip(refineSkipNoCategory)
	}

	typeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	docType, err := f.metadata.GetDocumentType(typeCtx, session.ScopeID, category)
	cancel()
	if err != nil {
		slog.Warn("refine_type_unavailable", "session_id", session.SessionID, "category", category, "error", err)
		return skip(refineSkipTypeUnknown)
	}
	if len(docType.Fields) == 0 {
		return skip(refineSkipTypeUnknown)
	}

	llmCtx, cancel := context.WithTimeout(ctx, f.timeout)
	raw, err := f.llm.CompleteJSON(llmCtx, buildRefinePrompt(query, docType))
	cancel()
	if err != nil {
		slog.Warn("refine_extraction_failed", "session_id", session.SessionID, "error", err)
		return skip(refineSkipExtraction)
	}
	var resp refineResponse
	if err := decodeModelJSON(raw, &resp); err != nil {
		slog.Warn("refine_extraction_failed", "session_id", session.SessionID, "error", err)
		return skip(refineSkipExtraction)
	}

	conditions := buildConditions(resp.Conditions, docType.Fields)
	missing := cleanMissingFields(resp.MissingFields)

	if len(conditions) == 0 {
		out := skip(refineSkipNoConditions)
		out.MissingFields = missing
		if len(missing) > 0 {
			out.AmbiguityMessage = ambiguityMessage(docType.Name, missing)
		}
		return out
	}

	searchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	hits, err := f.search.Search(searchCtx, domain.SearchRequest{
		ScopeID:     session.ScopeID,
		RestrictIDs: candidateIDs(fused),
		Conditions:  conditions,
		Size:        f.maxResults,
	})
	if err != nil {
		slog.Warn("refine_search_failed", "session_id", session.SessionID, "error", err)
		out := skip(refineSkipSearchFailed)
		out.Conditions = conditions
		out.MissingFields = missing
		return out
	}

	return &domain.RefinementOutput{
		Conditions:    conditions,
		MissingFields: missing,
		Applied:       true,
		Documents:     restrictToFused(hits, fused, f.maxResults),
	}
}

// buildConditions keeps conditions on declared fields only, typed by the
// declaration, ordered by field name.
func buildConditions(raw map[string]any, fields []domain.TypeField) []domain.FieldCondition {
	declared := make(map[string]domain.FieldType, len(fields))
	for _, f := range fields {
		declared[f.Name] = f.Type
	}

	out := make([]domain.FieldCondition, 0, len(raw))
	for name, value := range raw {
		fieldType, ok := declared[name]
		if !ok || value == nil {
			continue
		}
		cond := domain.FieldCondition{FieldName: name, FieldType: fieldType, Value: scalarString(value)}
		if !cond.Determinable() {
			continue
		}
		out = append(out, cond)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out
}

func cleanMissingFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func ambiguityMessage(typeName string, missing []string) string {
	return fmt.Sprintf(
		"Several %s documents match. To narrow the results, please specify: %s.",
		typeName, strings.Join(missing, ", "),
	)
}

// restrictToFused maps search hits back onto fused documents, dropping any
// hit outside the fused set and keeping hit order.
func restrictToFused(hits, fused []domain.DocumentCandidate, limit int) []domain.DocumentCandidate {
	byID := make(map[int64]domain.DocumentCandidate, len(fused))
	for _, d := range fused {
		byID[d.DocumentID] = d
	}
	out := make([]domain.DocumentCandidate, 0, len(hits))
	seen := make(map[int64]struct{}, len(hits))
	for _, hit := range hits {
		doc, ok := byID[hit.DocumentID]
		if !ok {
			continue
		}
		if _, dup := seen[hit.DocumentID]; dup {
			continue
		}
		seen[hit.DocumentID] = struct{}{}
		out = append(out, doc)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
