// Package llm implements the language-model backed steps of the letter
// pipeline: organizing extracted text, designing letter structures, and
// writing the narrative blocks.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/metrics"
)

// Config controls the model client.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Client wraps the OpenAI chat API with retries and call metrics. It
// implements letters.Organizer, letters.Designer, letters.BlockGenerator,
// and letters.Assembler.
type Client struct {
	api        *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
}

// New builds a Client from configuration.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}, nil
}

// chat issues one chat completion and returns the raw assistant text.
// Transient failures are retried with a short backoff.
func (c *Client) chat(ctx context.Context, operation, system, user string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%s canceled: %w", operation, ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			c.logger.Warn("retrying model call",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		cancel()
		metrics.ObserveLLMCall(operation, err, time.Since(start))
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("empty completion")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%s: %w", operation, lastErr)
}

// chatJSON issues a JSON-mode completion and unmarshals the result into out.
func (c *Client) chatJSON(ctx context.Context, operation, system, user string, out any) error {
	content, err := c.chat(ctx, operation, system, user, true)
	if err != nil {
		return err
	}
	cleaned := stripCodeFence(content)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("%s: decode model output: %w", operation, err)
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
