package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
	"github.com/kirillkom/archive-qa/internal/core/similarity"
)

const (
	// ApologyMessage is returned when no answer could be generated.
	ApologyMessage = "Sorry, an answer could not be generated right now. Please try again later."

	ungroundedDisclaimer = "Note: no archive document supports this answer; it is based on general knowledge only."
	snippetRunes         = 200
	mapConcurrency       = 4
)

var errNoPartialAnswers = errors.New("no partial answers")

// AnswerSynthesizer composes the final answer under a context budget.
type AnswerSynthesizer struct {
	llm          ports.LanguageModel
	budget       int
	excerptRunes int
	timeout      time.Duration
}

func NewAnswerSynthesizer(llm ports.LanguageModel, budget, excerptRunes int, timeout time.Duration) *AnswerSynthesizer {
	if budget <= 0 {
		budget = 12000
	}
	if excerptRunes <= 0 {
		excerptRunes = 1000
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnswerSynthesizer{llm: llm, budget: budget, excerptRunes: excerptRunes, timeout: timeout}
}

type partialAnswer struct {
	documentID int64
	title      string
	text       string
}

// Synthesize answers from docs. An empty docs set yields an ungrounded
// answer carrying a disclaimer. The error is non-nil only when no answer
// text could be produced at all.
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, query string, docs []domain.DocumentCandidate, toolContext string) (*domain.Answer, error) {
	if len(docs) == 0 {
		text, err := s.complete(ctx, buildUngroundedPrompt(query, toolContext))
		if err != nil {
			return nil, fmt.Errorf("ungrounded answer: %w", err)
		}
		return &domain.Answer{
			Text:       withDisclaimer(text),
			References: []domain.Reference{},
			Mode:       domain.AnswerUngrounded,
		}, nil
	}

	refs := buildReferences(docs)
	if totalContentRunes(docs) <= s.budget {
		text, err := s.complete(ctx, buildAnswerPrompt(query, docs, s.excerptRunes, toolContext))
		if err != nil {
			return nil, fmt.Errorf("single pass answer: %w", err)
		}
		return &domain.Answer{Text: text, References: refs, Mode: domain.AnswerSinglePass}, nil
	}

	text, err := s.mapReduce(ctx, query, docs, toolContext)
	if err != nil {
		return nil, fmt.Errorf("map reduce answer: %w", err)
	}
	return &domain.Answer{Text: text, References: refs, Mode: domain.AnswerMapReduce}, nil
}

func (s *AnswerSynthesizer) mapReduce(ctx context.Context, query string, docs []domain.DocumentCandidate, toolContext string) (string, error) {
	results := make([]*partialAnswer, len(docs))
	var mu sync.Mutex
	var firstErr error

	var g errgroup.Group
	g.SetLimit(mapConcurrency)
	for i, doc := range docs {
		g.Go(func() error {
			text, err := s.complete(ctx, buildPerDocumentPrompt(query, doc, s.budget))
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				slog.Warn("synthesis_partial_failed", "document_id", doc.DocumentID, "error", err)
				return nil
			}
			results[i] = &partialAnswer{documentID: doc.DocumentID, title: doc.Title, text: text}
			return nil
		})
	}
	_ = g.Wait()

	partials := make([]partialAnswer, 0, len(results))
	for _, p := range results {
		if p != nil {
			partials = append(partials, *p)
		}
	}
	if len(partials) == 0 {
		if firstErr != nil {
			return "", firstErr
		}
		return "", errNoPartialAnswers
	}

	merged, err := s.complete(ctx, buildMergePrompt(query, partials, toolContext))
	if err != nil {
		slog.Warn("synthesis_merge_failed", "error", err)
		return joinPartials(partials), nil
	}
	return merged, nil
}

// FormatToolAnswer turns tool results into prose, falling back to the raw
// results when the model is unavailable.
func (s *AnswerSynthesizer) FormatToolAnswer(ctx context.Context, query string, results []domain.ToolResult) string {
	text, err := s.complete(ctx, buildToolAnswerPrompt(query, results))
	if err == nil {
		return text
	}
	slog.Warn("tool_answer_format_failed", "error", err)
	payload, _ := json.MarshalIndent(results, "", "  ")
	return string(payload)
}

func (s *AnswerSynthesizer) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.llm.Complete(callCtx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

func totalContentRunes(docs []domain.DocumentCandidate) int {
	total := 0
	for _, d := range docs {
		total += utf8.RuneCountInString(d.Content)
	}
	return total
}

func buildReferences(docs []domain.DocumentCandidate) []domain.Reference {
	refs := make([]domain.Reference, 0, len(docs))
	for _, d := range docs {
		snippet := strings.TrimSpace(d.Summary)
		if snippet == "" {
			snippet = similarity.TruncateRunes(strings.TrimSpace(d.Content), snippetRunes)
		}
		refs = append(refs, domain.Reference{DocumentID: d.DocumentID, Title: d.Title, Snippet: snippet})
	}
	return refs
}

func joinPartials(partials []partialAnswer) string {
	blocks := make([]string, 0, len(partials))
	for _, p := range partials {
		blocks = append(blocks, fmt.Sprintf("%s:\n%s", p.title, p.text))
	}
	return strings.Join(blocks, "\n\n")
}

func withDisclaimer(text string) string {
	if strings.Contains(text, ungroundedDisclaimer) {
		return text
	}
	return strings.TrimSpace(text) + "\n\n" + ungroundedDisclaimer
}
