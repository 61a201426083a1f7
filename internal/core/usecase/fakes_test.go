package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

const (
	promptPlanner    = "planning component"
	promptEnhance    = "Rewrite the question for full-text search"
	promptExtract    = "Extract classification values"
	promptRefine     = "Declared fields of this type"
	promptRelevance  = "Decide which documents directly help"
	promptAnswer     = "Answer the question using the documents below"
	promptPerDoc     = "Using only this document"
	promptMerge      = "Merge the partial answers"
	promptUngrounded = "No archive document matched"
	promptToolAnswer = "using only the tool results"
)

var errFakeUnavailable = errors.New("model unavailable")

// llmFake answers by prompt kind and records every prompt it received.
type llmFake struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	prompts []string
}

func newLLMFake() *llmFake {
	return &llmFake{replies: map[string][]string{}, errs: map[string]error{}}
}

// on queues replies for a prompt kind; the last reply repeats.
func (f *llmFake) on(kind string, replies ...string) *llmFake {
	f.replies[kind] = append(f.replies[kind], replies...)
	return f
}

func (f *llmFake) fail(kind string, err error) *llmFake {
	f.errs[kind] = err
	return f
}

func (f *llmFake) Complete(_ context.Context, prompt string) (string, error) {
	return f.reply(prompt)
}

func (f *llmFake) CompleteJSON(_ context.Context, prompt string) (string, error) {
	return f.reply(prompt)
}

func (f *llmFake) reply(prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	for kind, err := range f.errs {
		if strings.Contains(prompt, kind) {
			return "", err
		}
	}
	for kind, queue := range f.replies {
		if !strings.Contains(prompt, kind) || len(queue) == 0 {
			continue
		}
		reply := queue[0]
		if len(queue) > 1 {
			f.replies[kind] = queue[1:]
		}
		return reply, nil
	}
	return "", errFakeUnavailable
}

func (f *llmFake) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		if strings.Contains(p, kind) {
			n++
		}
	}
	return n
}

func (f *llmFake) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := []string{promptPlanner, promptEnhance, promptExtract, promptRefine, promptRelevance, promptAnswer, promptPerDoc, promptMerge, promptUngrounded, promptToolAnswer}
	out := make([]string, 0, len(f.prompts))
	for _, p := range f.prompts {
		for _, kind := range all {
			if strings.Contains(p, kind) {
				out = append(out, kind)
				break
			}
		}
	}
	return out
}

type searchFake struct {
	mu        sync.Mutex
	hits      []domain.DocumentCandidate
	refineHit []domain.DocumentCandidate
	err       error
	refineErr error
	requests  []domain.SearchRequest
	indexed   []domain.IndexDocument
	deleted   []int64
}

func (f *searchFake) Search(_ context.Context, req domain.SearchRequest) ([]domain.DocumentCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(req.Conditions) > 0 {
		return f.refineHit, f.refineErr
	}
	return f.hits, f.err
}

func (f *searchFake) Index(_ context.Context, doc domain.IndexDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, doc)
	return f.err
}

func (f *searchFake) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err
}

type metadataFake struct {
	mu          sync.Mutex
	template    *domain.Template
	templateErr error
	docTypes    map[string]*domain.DocumentType
	foundIDs    []int64
	findErr     error
	findValues  [][]string
	docs        map[int64]domain.DocumentCandidate
	loadErr     error
	summaries   map[int64]string
	summaryErr  error
}

func (f *metadataFake) GetTemplate(context.Context, int64) (*domain.Template, error) {
	if f.templateErr != nil {
		return nil, f.templateErr
	}
	if f.template == nil {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get template", errors.New("missing"))
	}
	return f.template, nil
}

func (f *metadataFake) GetDocumentType(_ context.Context, _ int64, code string) (*domain.DocumentType, error) {
	if t, ok := f.docTypes[code]; ok {
		return t, nil
	}
	return nil, domain.WrapError(domain.ErrDocumentTypeNotFound, "get document type", errors.New(code))
}

func (f *metadataFake) FindDocumentIDs(_ context.Context, _ int64, values []string, _ int) ([]int64, error) {
	f.mu.Lock()
	f.findValues = append(f.findValues, values)
	f.mu.Unlock()
	return f.foundIDs, f.findErr
}

func (f *metadataFake) LoadDocuments(_ context.Context, ids []int64) ([]domain.DocumentCandidate, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make([]domain.DocumentCandidate, 0, len(ids))
	// Reverse order on purpose: callers must reorder.
	for i := len(ids) - 1; i >= 0; i-- {
		if d, ok := f.docs[ids[i]]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *metadataFake) LoadSummaries(_ context.Context, ids []int64) (map[int64]string, error) {
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if s, ok := f.summaries[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *metadataFake) GetIndexDocument(_ context.Context, id int64) (*domain.IndexDocument, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get index document", errors.New("missing"))
	}
	return &domain.IndexDocument{DocumentID: d.DocumentID, Title: d.Title, Content: d.Content, TemplateID: 7}, nil
}

type toolsFake struct {
	specs []domain.ToolSpec
	calls []toolCall
	err   error
}

type toolCall struct {
	name string
	args map[string]any
}

func (f *toolsFake) Tools() []domain.ToolSpec { return f.specs }

func (f *toolsFake) Execute(_ context.Context, name string, args map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, toolCall{name: name, args: args})
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"success": true, "tool": name}, nil
}

type sessionsFake struct {
	mu     sync.Mutex
	states map[string]*domain.RetrievalState
	saves  int
}

func newSessionsFake() *sessionsFake {
	return &sessionsFake{states: map[string]*domain.RetrievalState{}}
}

func (f *sessionsFake) Save(_ context.Context, state *domain.RetrievalState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.states[state.Session.SessionID] = state
	return nil
}

func (f *sessionsFake) Load(_ context.Context, id string) (*domain.RetrievalState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "load session", errors.New(id))
	}
	return s, nil
}

func (f *sessionsFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, id)
	return nil
}

func docsByID(docs ...domain.DocumentCandidate) map[int64]domain.DocumentCandidate {
	out := make(map[int64]domain.DocumentCandidate, len(docs))
	for _, d := range docs {
		out[d.DocumentID] = d
	}
	return out
}

func testSession() domain.QuerySession {
	return domain.QuerySession{SessionID: "s-1", Query: "q", ScopeID: 7}
}
