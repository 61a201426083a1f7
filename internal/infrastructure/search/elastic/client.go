package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
)

type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Transport http.RoundTripper
}

// Client implements the full-text searcher over one Elasticsearch index.
type Client struct {
	es       *elasticsearch.Client
	index    string
	executor *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	index := strings.TrimSpace(cfg.Index)
	if index == "" {
		index = "archive_documents"
	}
	return &Client{es: es, index: index, executor: executor}, nil
}

// StatusError is a non-2xx Elasticsearch response.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("elasticsearch %s status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// EnsureIndex creates the index with its mapping when missing.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		statusErr := newStatusError("create_index", res)
		// Another instance may have created it in the meantime.
		if strings.Contains(statusErr.Body, "resource_already_exists_exception") {
			return nil
		}
		return statusErr
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Score  float64         `json:"_score"`
			Source indexedDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (c *Client) Search(ctx context.Context, req domain.SearchRequest) ([]domain.DocumentCandidate, error) {
	body, err := json.Marshal(buildSearchQuery(req))
	if err != nil {
		return nil, fmt.Errorf("marshal search query: %w", err)
	}

	var parsed searchResponse
	err = c.execute(ctx, "search", func(callCtx context.Context) error {
		res, err := c.es.Search(
			c.es.Search.WithContext(callCtx),
			c.es.Search.WithIndex(c.index),
			c.es.Search.WithBody(bytes.NewReader(body)),
		)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return newStatusError("search", res)
		}
		return json.NewDecoder(res.Body).Decode(&parsed)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.DocumentCandidate, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		id := hit.Source.DocumentID
		if id == 0 {
			id, _ = strconv.ParseInt(hit.ID, 10, 64)
		}
		if id == 0 {
			continue
		}
		out = append(out, domain.DocumentCandidate{
			DocumentID: id,
			Title:      hit.Source.Title,
			Content:    hit.Source.Content,
			Summary:    hit.Source.Summary,
			Metadata:   hit.Source.Metadata,
		})
	}
	return out, nil
}

func (c *Client) Index(ctx context.Context, doc domain.IndexDocument) error {
	body, err := json.Marshal(toIndexed(doc))
	if err != nil {
		return fmt.Errorf("marshal index document: %w", err)
	}
	return c.execute(ctx, "index", func(callCtx context.Context) error {
		res, err := c.es.Index(c.index, bytes.NewReader(body),
			c.es.Index.WithContext(callCtx),
			c.es.Index.WithDocumentID(strconv.FormatInt(doc.DocumentID, 10)),
		)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return newStatusError("index", res)
		}
		return nil
	})
}

// Delete is idempotent: a missing document is not an error.
func (c *Client) Delete(ctx context.Context, documentID int64) error {
	return c.execute(ctx, "delete", func(callCtx context.Context) error {
		res, err := c.es.Delete(c.index, strconv.FormatInt(documentID, 10), c.es.Delete.WithContext(callCtx))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() && res.StatusCode != http.StatusNotFound {
			return newStatusError("delete", res)
		}
		return nil
	})
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "elastic."+operation, fn, classifyElasticError)
	} else {
		err = fn(ctx)
	}
	if err == nil {
		return nil
	}
	if classifyElasticError(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, "elastic "+operation, err)
	}
	return fmt.Errorf("elastic %s: %w", operation, err)
}

func newStatusError(operation string, res *esapi.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	return &StatusError{Operation: operation, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
}

func classifyElasticError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: statusErr.StatusCode >= 500}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
