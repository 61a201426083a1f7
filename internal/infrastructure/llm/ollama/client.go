package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
)

// Client is a LanguageModel backed by the Ollama generate API.
type Client struct {
	baseURL     string
	model       string
	temperature float64
	keepAlive   string
	httpClient  *http.Client
	executor    *resilience.Executor
}

type Options struct {
	HTTPTimeout time.Duration
	Temperature float64
	// KeepAlive is passed through as keep_alive, e.g. "10m"; empty keeps
	// the server default.
	KeepAlive string

	ResilienceExecutor *resilience.Executor
}

func New(baseURL, model string) *Client {
	return NewWithOptions(baseURL, model, Options{})
}

func NewWithOptions(baseURL, model string, options Options) *Client {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: options.Temperature,
		keepAlive:   strings.TrimSpace(options.KeepAlive),
		httpClient:  &http.Client{Timeout: timeout},
		executor:    options.ResilienceExecutor,
	}
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, "generate", c.request(prompt, "", c.temperature))
}

// CompleteJSON constrains the output to a JSON document and decodes
// greedily, since planner and filter replies are parsed by the caller.
func (c *Client) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, "generate_json", c.request(prompt, "json", 0))
}

func (c *Client) request(prompt, format string, temperature float64) generateRequest {
	return generateRequest{
		Model:     c.model,
		Prompt:    prompt,
		Format:    format,
		KeepAlive: c.keepAlive,
		Options:   &generateOptions{Temperature: temperature},
	}
}

func (c *Client) generate(ctx context.Context, operation string, req generateRequest) (string, error) {
	var text string
	call := func(callCtx context.Context) error {
		resp, err := c.post(callCtx, operation, req)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(resp.Response)
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama."+operation, call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("ollama "+operation, err)
	}
	return text, nil
}
