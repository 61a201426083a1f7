package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const generatePath = "/api/generate"

type generateRequest struct {
	Model     string           `json:"model"`
	Prompt    string           `json:"prompt"`
	Stream    bool             `json:"stream"`
	Format    string           `json:"format,omitempty"`
	KeepAlive string           `json:"keep_alive,omitempty"`
	Options   *generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (c *Client) post(ctx context.Context, operation string, payload generateRequest) (*generateResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, newStatusError(operation, resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", operation, err)
	}
	if out.Error != "" {
		// Ollama reports some load failures in a 200 body.
		return nil, &StatusError{Operation: operation, StatusCode: http.StatusServiceUnavailable, Status: "model error", Body: out.Error}
	}
	return &out, nil
}

func newStatusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	body := strings.TrimSpace(string(raw))

	// Error bodies are {"error":"..."}; keep the message when they are.
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		body = payload.Error
	}
	return &StatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
	}
}
