package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/archive-qa/internal/config"
	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
	"github.com/kirillkom/archive-qa/internal/observability/metrics"
)

type qaFake struct {
	events []domain.Event
	result *domain.AskResult
	err    error
	calls  int
	last   domain.AskRequest
}

func (f *qaFake) Stream(_ context.Context, req domain.AskRequest) (<-chan domain.Event, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan domain.Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func (f *qaFake) Ask(_ context.Context, req domain.AskRequest) (*domain.AskResult, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.AskResult{SessionID: "s-1", Answer: &domain.Answer{Text: "ok"}}, nil
}

type indexFake struct {
	events []domain.IndexEvent
	err    error
}

func (f *indexFake) Handle(context.Context, domain.IndexEvent) error { return nil }

func (f *indexFake) Request(_ context.Context, events []domain.IndexEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, events...)
	return nil
}

func newTestHandler(t *testing.T, cfg config.Config, qa *qaFake, index *indexFake) http.Handler {
	t.Helper()
	var indexer ports.IndexSynchronizer
	if index != nil {
		indexer = index
	}
	router, err := NewRouter(cfg, qa, indexer, nil)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router.Handler()
}

func postJSON(handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAskReturnsCollectedResult(t *testing.T) {
	qa := &qaFake{result: &domain.AskResult{
		SessionID: "s-9",
		Strategy:  domain.FusionFullTextFirst,
		Answer: &domain.Answer{
			Text:       "Two budgets were approved.",
			References: []domain.Reference{{DocumentID: 2, Title: "Budget 2023", Snippet: "approved"}},
			Mode:       domain.AnswerSinglePass,
		},
	}}
	handler := newTestHandler(t, config.Config{}, qa, nil)

	res := postJSON(handler, "/v1/qa/ask", map[string]any{"query": "budgets", "scope_id": 7, "top_k": 5})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if qa.last.ScopeID != 7 || qa.last.TopK != 5 {
		t.Fatalf("unexpected request forwarded: %+v", qa.last)
	}

	var got domain.AskResult
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Strategy != domain.FusionFullTextFirst || got.Answer == nil || len(got.Answer.References) != 1 {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestAskRejectsInvalidRequests(t *testing.T) {
	qa := &qaFake{}
	handler := newTestHandler(t, config.Config{}, qa, nil)

	cases := []any{
		map[string]any{"query": "q"},
		map[string]any{"query": "", "scope_id": 1},
		map[string]any{"query": "q", "scope_id": 1.5},
		map[string]any{"query": "q", "scope_id": 0},
		"not an object",
	}
	for _, payload := range cases {
		res := postJSON(handler, "/v1/qa/ask", payload)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("payload %v: expected 400, got %d", payload, res.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/qa/ask", strings.NewReader("{broken"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", res.Code)
	}
	if qa.calls != 0 {
		t.Fatalf("pipeline must not run for invalid requests")
	}
}

func TestAskMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{domain.WrapError(domain.ErrSessionNotFound, "load session", errors.New("id abc")), http.StatusNotFound, "session not found"},
		{domain.WrapError(domain.ErrTemporary, "answer question", errors.New("ollama down")), http.StatusServiceUnavailable, "service temporarily unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		handler := newTestHandler(t, config.Config{}, &qaFake{err: tc.err}, nil)
		res := postJSON(handler, "/v1/qa/ask", map[string]any{"query": "q", "scope_id": 1, "session_id": "abc", "clarification": "2023"})
		if res.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, res.Code)
		}
		if !strings.Contains(res.Body.String(), tc.message) {
			t.Fatalf("%v: expected message %q in %s", tc.err, tc.message, res.Body.String())
		}
	}
}

func TestAskStreamWritesServerSentEvents(t *testing.T) {
	now := time.Now().UTC()
	qa := &qaFake{events: []domain.Event{
		{Type: domain.EventThinking, SessionID: "s-1", Stage: domain.StagePlan, Timestamp: now},
		{Type: domain.EventReferences, SessionID: "s-1", Data: map[string]any{"references": []domain.Reference{{DocumentID: 2, Title: "Budget"}}}, Timestamp: now},
		{Type: domain.EventAnswer, SessionID: "s-1", Message: "answer text", Timestamp: now},
		{Type: domain.EventComplete, SessionID: "s-1", Timestamp: now},
	}}
	handler := newTestHandler(t, config.Config{}, qa, nil)

	res := postJSON(handler, "/v1/qa/ask/stream", map[string]any{"query": "budgets", "scope_id": 7})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	body := res.Body.String()
	order := []string{"event: thinking\ndata: ", "event: references\ndata: ", "event: answer\ndata: ", "event: complete\ndata: "}
	last := -1
	for _, marker := range order {
		idx := strings.Index(body, marker)
		if idx <= last {
			t.Fatalf("event %q missing or out of order in:\n%s", marker, body)
		}
		last = idx
	}
	if !strings.Contains(body, `"session_id":"s-1"`) {
		t.Fatalf("events must carry the session id:\n%s", body)
	}
}

func TestAskStreamReportsStartupErrorsAsJSON(t *testing.T) {
	qa := &qaFake{err: domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("clarification without session"))}
	handler := newTestHandler(t, config.Config{}, qa, nil)

	res := postJSON(handler, "/v1/qa/ask/stream", map[string]any{"query": "q", "scope_id": 1})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestIndexSyncPublishesEvents(t *testing.T) {
	index := &indexFake{}
	handler := newTestHandler(t, config.Config{}, &qaFake{}, index)

	res := postJSON(handler, "/v1/index/sync", map[string]any{"events": []map[string]any{
		{"document_id": 4, "op": "upsert"},
		{"document_id": 5, "op": "delete"},
	}})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(index.events) != 2 || index.events[1].Operation != domain.IndexDelete {
		t.Fatalf("unexpected published events %+v", index.events)
	}

	res = postJSON(handler, "/v1/index/sync", map[string]any{"events": []map[string]any{{"document_id": 4, "op": "reindex"}}})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown op, got %d", res.Code)
	}
}

func TestIndexSyncWithoutQueue(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, &qaFake{}, nil)
	res := postJSON(handler, "/v1/index/sync", map[string]any{"events": []map[string]any{{"document_id": 4, "op": "upsert"}}})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestMetricsEndpointExposesHTTPCounters(t *testing.T) {
	router, err := NewRouter(config.Config{}, &qaFake{}, nil, metrics.NewHTTPServerMetrics(serviceName))
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	handler := router.Handler()

	postJSON(handler, "/v1/qa/ask", map[string]any{"query": "q", "scope_id": 1})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), `aqa_qa_requests_total{endpoint="ask",kind="new",service="api"} 1`) {
		t.Fatalf("expected qa request counter in metrics output:\n%s", res.Body.String())
	}
}
