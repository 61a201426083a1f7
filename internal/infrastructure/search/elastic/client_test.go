package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

type recordedRequest struct {
	method string
	path   string
	body   map[string]any
}

type fakeES struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func newFakeES(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeES) {
	t.Helper()
	fake := &fakeES{handler: handler}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		fake.mu.Lock()
		fake.requests = append(fake.requests, recordedRequest{method: r.Method, path: r.URL.Path, body: body})
		fake.mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		fake.handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{Addresses: []string{server.URL}, Index: "docs"}, nil)
	require.NoError(t, err)
	return client, fake
}

func TestSearchBuildsScopedQueryAndParsesHits(t *testing.T) {
	client, fake := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"12","_score":3.2,"_source":{"document_id":12,"title":"Budget","content":"2023 budget","summary":"s"}},
			{"_id":"15","_score":1.1,"_source":{"title":"Plan","content":"plan"}}
		]}}`))
	})

	docs, err := client.Search(context.Background(), domain.SearchRequest{Text: "budget", ScopeID: 7, Size: 20})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, int64(12), docs[0].DocumentID)
	require.Equal(t, "s", docs[0].Summary)
	require.Equal(t, int64(15), docs[1].DocumentID, "id falls back to _id")

	req := fake.requests[0]
	require.Equal(t, "/docs/_search", req.path)
	require.EqualValues(t, 20, req.body["size"])
	encoded, _ := json.Marshal(req.body)
	require.Contains(t, string(encoded), `"multi_match"`)
	require.Contains(t, string(encoded), `{"term":{"template_id":7}}`)
}

func TestBuildSearchQueryConditions(t *testing.T) {
	query := buildSearchQuery(domain.SearchRequest{
		ScopeID:     7,
		RestrictIDs: []int64{1, 2},
		Conditions: []domain.FieldCondition{
			{FieldName: "party", FieldType: domain.FieldText, Value: "Delta"},
			{FieldName: "amount", FieldType: domain.FieldNumber, Value: "1000"},
			{FieldName: "signed_date", FieldType: domain.FieldDate, Value: "UNKNOWN"},
		},
		Size: 5,
	})
	encoded, err := json.Marshal(query)
	require.NoError(t, err)
	s := string(encoded)
	require.Contains(t, s, `{"match":{"metadata.party":{"fuzziness":"AUTO","query":"Delta"}}}`)
	require.Contains(t, s, `{"term":{"metadata.amount":"1000"}}`)
	require.Contains(t, s, `{"terms":{"document_id":[1,2]}}`)
	require.NotContains(t, s, "signed_date")
	require.NotContains(t, s, "multi_match")
}

func TestConditionClauseByFieldType(t *testing.T) {
	date := conditionClause(domain.FieldCondition{FieldName: "signed_date", FieldType: domain.FieldDate, Value: "2023-01-01"})
	require.Equal(t, map[string]any{"range": map[string]any{"metadata.signed_date": map[string]any{"gte": "2023-01-01"}}}, date)

	stamp := conditionClause(domain.FieldCondition{FieldName: "approved_at", FieldType: domain.FieldDatetime, Value: "2023-03-01T00:00:00Z"})
	require.Contains(t, stamp, "range")

	number := conditionClause(domain.FieldCondition{FieldName: "amount", FieldType: domain.FieldNumber, Value: "1000"})
	require.Equal(t, map[string]any{"term": map[string]any{"metadata.amount": "1000"}}, number)

	query := buildSearchQuery(domain.SearchRequest{
		ScopeID:     7,
		RestrictIDs: []int64{1},
		Conditions:  []domain.FieldCondition{{FieldName: "signed_date", FieldType: domain.FieldDate, Value: "2023-01-01"}},
		Size:        5,
	})
	encoded, err := json.Marshal(query)
	require.NoError(t, err)
	require.Contains(t, string(encoded), `{"range":{"metadata.signed_date":{"gte":"2023-01-01"}}}`)
	require.NotContains(t, string(encoded), `{"term":{"metadata.signed_date"`)
}

func TestIndexAndDelete(t *testing.T) {
	client, fake := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"result":"not_found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	err := client.Index(context.Background(), domain.IndexDocument{
		DocumentID:    9,
		Title:         "Contract",
		Content:       "text",
		TemplateID:    7,
		ExtractedData: map[string]any{"party": "Delta"},
	})
	require.NoError(t, err)
	require.NoError(t, client.Delete(context.Background(), 9), "deleting a missing document is a no-op")

	require.Len(t, fake.requests, 2)
	require.True(t, strings.HasPrefix(fake.requests[0].path, "/docs/_doc/9"))
	require.Equal(t, "Delta", fake.requests[0].body["metadata"].(map[string]any)["party"])
	require.Equal(t, http.MethodDelete, fake.requests[1].method)
}

func TestSearchServerErrorIsTemporary(t *testing.T) {
	client, _ := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
	})

	_, err := client.Search(context.Background(), domain.SearchRequest{Text: "x"})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.ErrTemporary), "got %v", err)
}
