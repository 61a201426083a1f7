package httpadapter

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/archive-qa/internal/config"
)

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := newTestHandler(t, config.Config{
		APIRateLimitRPS:   1,
		APIRateLimitBurst: 1,
	}, &qaFake{}, nil)

	res1 := postJSON(handler, "/v1/qa/ask", map[string]any{"query": "q", "scope_id": 1})
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	res2 := postJSON(handler, "/v1/qa/ask", map[string]any{"query": "q", "scope_id": 1})
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}

	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("health checks must bypass the limiter, got %d", health.Code)
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/qa/ask", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodPost, "/v1/qa/ask", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(res2.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected overload error message in response")
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, &qaFake{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if got := res.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestRecoverMiddlewareWritesJSON500(t *testing.T) {
	handler := requestIDMiddleware(accessLogMiddleware(recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/qa/ask", nil))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", res.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected json body: %v", err)
	}
	if body["error"] != "internal error" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestAnnotateCollectsRequestAttributes(t *testing.T) {
	var got []any
	handler := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		annotate(r, "scope_id", int64(7))
		annotate(r, "session_id", "s-1")
		got = scopeFromContext(r.Context()).annotations()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if len(got) != 4 || got[0] != "scope_id" || got[1] != int64(7) || got[3] != "s-1" {
		t.Fatalf("unexpected annotations %v", got)
	}
}

func TestAnnotateWithoutScopeIsNoop(t *testing.T) {
	annotate(httptest.NewRequest(http.MethodGet, "/healthz", nil), "k", "v")
}
