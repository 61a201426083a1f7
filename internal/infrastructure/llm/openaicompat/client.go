// Package openaicompat adapts any OpenAI-compatible chat endpoint (vLLM,
// LM Studio, llama.cpp server, OpenAI itself) to the LanguageModel port.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
}

type Client struct {
	model       llms.Model
	temperature float64
	executor    *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Client, error) {
	token := strings.TrimSpace(cfg.APIKey)
	if token == "" {
		// Local servers ignore the token but the SDK requires one.
		token = "none"
	}
	model, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai-compatible client: %w", err)
	}
	return NewWithModel(model, cfg.Temperature, executor), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(model llms.Model, temperature float64, executor *resilience.Executor) *Client {
	return &Client{model: model, temperature: temperature, executor: executor}
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, "openai.complete", prompt, llms.WithTemperature(c.temperature))
}

func (c *Client) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, "openai.complete_json", prompt, llms.WithTemperature(0), llms.WithJSONMode())
}

func (c *Client) generate(ctx context.Context, operation, prompt string, options ...llms.CallOption) (string, error) {
	content := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}

	var text string
	call := func(callCtx context.Context) error {
		resp, err := c.model.GenerateContent(callCtx, content, options...)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return domain.WrapError(domain.ErrTemporary, operation, errors.New("no choices returned"))
		}
		text = strings.TrimSpace(resp.Choices[0].Content)
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, resilience.TemporaryClassifier)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if domain.IsKind(err, domain.ErrTemporary) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return text, nil
}
