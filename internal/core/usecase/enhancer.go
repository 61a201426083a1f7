package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
)

// QueryEnhancer extracts template field hints and rewrites the query for recall.
type QueryEnhancer struct {
	llm      ports.LanguageModel
	metadata ports.MetadataStore
	timeout  time.Duration
}

func NewQueryEnhancer(llm ports.LanguageModel, metadata ports.MetadataStore, timeout time.Duration) *QueryEnhancer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QueryEnhancer{llm: llm, metadata: metadata, timeout: timeout}
}

type enhanceResponse struct {
	Fields map[string]struct {
		Value valueList `json:"value"`
		Level int       `json:"level"`
	} `json:"fields"`
	RewrittenQuery string `json:"rewritten_query"`
}

// Enhance never fails; any error yields the unmodified query.
func (e *QueryEnhancer) Enhance(ctx context.Context, session domain.QuerySession, query string) *domain.EnhancementOutput {
	fallback := &domain.EnhancementOutput{RewrittenQuery: query, Degraded: true}

	var fields []domain.TemplateField
	tmplCtx, cancel := context.WithTimeout(ctx, e.timeout)
	tmpl, err := e.metadata.GetTemplate(tmplCtx, session.ScopeID)
	cancel()
	if err != nil {
		slog.Warn("enhancer_template_unavailable", "session_id", session.SessionID, "scope_id", session.ScopeID, "error", err)
	} else {
		fields = tmpl.Fields
	}

	llmCtx, cancel := context.WithTimeout(ctx, e.timeout)
	raw, err := e.llm.CompleteJSON(llmCtx, buildEnhancePrompt(query, fields))
	cancel()
	if err != nil {
		slog.Warn("enhancer_degraded", "session_id", session.SessionID, "error", err)
		return fallback
	}

	var resp enhanceResponse
	if err := decodeModelJSON(raw, &resp); err != nil {
		slog.Warn("enhancer_degraded", "session_id", session.SessionID, "error", err)
		return fallback
	}

	out := &domain.EnhancementOutput{
		ParsedFields:   make(map[string]domain.FieldHint, len(resp.Fields)),
		RewrittenQuery: strings.TrimSpace(resp.RewrittenQuery),
	}
	for code, hint := range resp.Fields {
		values := make([]string, 0, len(hint.Value))
		for _, v := range hint.Value {
			if (domain.FieldCondition{Value: v}).Determinable() {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		out.ParsedFields[code] = domain.FieldHint{Values: values, Level: hint.Level}
	}
	if out.RewrittenQuery == "" {
		out.RewrittenQuery = query
		out.Degraded = true
	}
	return out
}
