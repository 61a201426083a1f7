package usecase

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
)

// DualRetriever runs the full-text and structured channels. The channels
// share no data, so they run concurrently; each degrades to no ids on error.
type DualRetriever struct {
	search   ports.FullTextSearcher
	metadata ports.MetadataStore
	llm      ports.LanguageModel

	fullTextTopK    int
	structuredLimit int
	timeout         time.Duration
}

func NewDualRetriever(
	search ports.FullTextSearcher,
	metadata ports.MetadataStore,
	llm ports.LanguageModel,
	fullTextTopK int,
	structuredLimit int,
	timeout time.Duration,
) *DualRetriever {
	if fullTextTopK <= 0 {
		fullTextTopK = 20
	}
	if structuredLimit <= 0 {
		structuredLimit = 50
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DualRetriever{
		search:          search,
		metadata:        metadata,
		llm:             llm,
		fullTextTopK:    fullTextTopK,
		structuredLimit: structuredLimit,
		timeout:         timeout,
	}
}

// Retrieve runs both channels. A positive topK narrows the full-text page
// below the configured size.
func (r *DualRetriever) Retrieve(ctx context.Context, session domain.QuerySession, query string, enhancement *domain.EnhancementOutput, topK int) *domain.ChannelOutput {
	searchText := query
	if enhancement != nil && enhancement.RewrittenQuery != "" {
		searchText = enhancement.RewrittenQuery
	}

	out := &domain.ChannelOutput{Category: domain.WildcardCategory}
	var structured structuredOutcome

	var g errgroup.Group
	g.Go(func() error {
		docs, err := r.fullText(ctx, session.ScopeID, searchText, r.pageSize(topK))
		if err != nil {
			slog.Warn("fulltext_channel_failed", "session_id", session.SessionID, "error", err)
			out.FullTextErr = err.Error()
			return nil
		}
		out.FullTextDocs = docs
		out.FullTextIDs = candidateIDs(docs)
		return nil
	})
	g.Go(func() error {
		structured = r.structured(ctx, session, query, enhancement)
		return nil
	})
	_ = g.Wait()

	out.StructuredIDs = structured.ids
	out.StructuredFields = structured.fields
	if structured.category != "" {
		out.Category = structured.category
	}
	if structured.err != nil {
		slog.Warn("structured_channel_failed", "session_id", session.SessionID, "error", structured.err)
		out.StructuredErr = structured.err.Error()
	}
	if out.FullTextIDs == nil {
		out.FullTextIDs = []int64{}
	}
	if out.StructuredIDs == nil {
		out.StructuredIDs = []int64{}
	}
	return out
}

func (r *DualRetriever) pageSize(topK int) int {
	if topK > 0 && topK < r.fullTextTopK {
		return topK
	}
	return r.fullTextTopK
}

func (r *DualRetriever) fullText(ctx context.Context, scopeID int64, text string, size int) ([]domain.DocumentCandidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.search.Search(callCtx, domain.SearchRequest{
		Text:    text,
		ScopeID: scopeID,
		Size:    size,
	})
}

type structuredOutcome struct {
	ids      []int64
	category string
	fields   []domain.FieldCondition
	err      error
}

type extractedField struct {
	Code  string    `json:"code"`
	Value valueList `json:"value"`
	Level int       `json:"level"`
}

func (r *DualRetriever) structured(ctx context.Context, session domain.QuerySession, query string, enhancement *domain.EnhancementOutput) structuredOutcome {
	tmplCtx, cancel := context.WithTimeout(ctx, r.timeout)
	tmpl, err := r.metadata.GetTemplate(tmplCtx, session.ScopeID)
	cancel()
	if err != nil {
		return structuredOutcome{err: err}
	}

	docTypeField, hasDocType := tmpl.DocTypeField()
	extracted, extractErr := r.extract(ctx, query, tmpl.Fields)
	if extractErr != nil {
		slog.Warn("structured_extraction_failed", "session_id", session.SessionID, "error", extractErr)
	}

	outcome := structuredOutcome{category: domain.WildcardCategory, fields: extracted}
	if hasDocType {
		if v, ok := firstValue(extracted, docTypeField.Code); ok {
			outcome.category = v
		} else if enhancement != nil {
			if hint, ok := enhancement.ParsedFields[docTypeField.Code]; ok && len(hint.Values) > 0 {
				outcome.category = hint.Values[0]
			}
		}
	}

	values := hintValues(enhancement)
	if len(values) == 0 {
		values = conditionValues(extracted)
	}
	if len(values) == 0 {
		outcome.ids = []int64{}
		return outcome
	}

	findCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ids, err := r.metadata.FindDocumentIDs(findCtx, session.ScopeID, values, r.structuredLimit)
	if err != nil {
		outcome.err = err
		return outcome
	}
	outcome.ids = ids
	return outcome
}

func (r *DualRetriever) extract(ctx context.Context, query string, fields []domain.TemplateField) ([]domain.FieldCondition, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	raw, err := r.llm.CompleteJSON(callCtx, buildFieldExtractionPrompt(query, fields))
	if err != nil {
		return nil, err
	}

	var items []extractedField
	if err := decodeModelJSON(raw, &items); err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Level < items[j].Level })

	out := make([]domain.FieldCondition, 0, len(items))
	for _, item := range items {
		for _, v := range item.Value {
			cond := domain.FieldCondition{
				FieldName: item.Code,
				FieldType: domain.FieldKeyword,
				Value:     v,
			}
			if cond.Determinable() {
				out = append(out, cond)
			}
		}
	}
	return out, nil
}

func firstValue(conditions []domain.FieldCondition, code string) (string, bool) {
	for _, c := range conditions {
		if c.FieldName == code && c.Determinable() {
			return c.Value, true
		}
	}
	return "", false
}

// hintValues flattens parsed field hints ordered by level, then code.
func hintValues(enhancement *domain.EnhancementOutput) []string {
	if enhancement == nil || len(enhancement.ParsedFields) == 0 {
		return nil
	}
	codes := make([]string, 0, len(enhancement.ParsedFields))
	for code := range enhancement.ParsedFields {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		li, lj := enhancement.ParsedFields[codes[i]].Level, enhancement.ParsedFields[codes[j]].Level
		if li != lj {
			return li < lj
		}
		return codes[i] < codes[j]
	})

	values := make([]string, 0, len(codes))
	for _, code := range codes {
		values = append(values, enhancement.ParsedFields[code].Values...)
	}
	return values
}

func conditionValues(conditions []domain.FieldCondition) []string {
	values := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if c.Determinable() {
			values = append(values, c.Value)
		}
	}
	return values
}

func candidateIDs(docs []domain.DocumentCandidate) []int64 {
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.DocumentID)
	}
	return ids
}
