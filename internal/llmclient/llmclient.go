// Package llmclient is the go-openai-backed implementation of internal/llm's
// Client interface, following hyperifyio-goresearch's internal/app pattern
// of wrapping openai.NewClientWithConfig with a base URL override and a
// bounded retry loop, and tarsy's convention of a single constructor that
// logs its effective configuration.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/llm"
)

// Client wraps an *openai.Client with the model, retry, and timeout
// settings from config.LLMConfig.
type Client struct {
	api        *openai.Client
	model      string
	maxRetries int
	timeout    time.Duration
	log        *slog.Logger
}

// New builds a Client from config, pointing at a custom base URL when one
// is configured (self-hosted or Azure-compatible gateways), mirroring
// hyperifyio-goresearch's transportCfg.BaseURL override.
func New(cfg config.LLMConfig, logger *slog.Logger) *Client {
	transportCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		transportCfg.BaseURL = cfg.BaseURL
	}
	if cfg.AzureBaseURL != "" {
		transportCfg.BaseURL = cfg.AzureBaseURL
	}

	if logger == nil {
		logger = slog.Default()
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		api:        openai.NewClientWithConfig(transportCfg),
		model:      cfg.Model,
		maxRetries: retries,
		timeout:    timeout,
		log:        logger,
	}
}

// Complete issues one chat completion, retrying transient provider errors
// with exponential backoff up to maxRetries, the same fallback-on-error
// shape hyperifyio-goresearch's planner applies around its LLM calls.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	oaiReq := toOpenAIRequest(c.model, req)

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.CreateChatCompletion(callCtx, oaiReq)
		cancel()
		if err == nil {
			if len(resp.Choices) == 0 {
				lastErr = fmt.Errorf("%w: provider returned zero choices", llm.ErrTransientModel)
			} else {
				return fromOpenAIResponse(resp.Choices[0]), nil
			}
		} else {
			lastErr = classifyCompletionErr(err)
			if !errors.Is(lastErr, llm.ErrTransientModel) {
				return llm.Response{}, lastErr
			}
		}

		c.log.Warn("llm call failed, retrying", "attempt", attempt, "max_retries", c.maxRetries, "error", lastErr)

		select {
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return llm.Response{}, fmt.Errorf("llmclient: exhausted %d retries: %w", c.maxRetries, lastErr)
}

// classifyCompletionErr wraps rate-limited (429) and 5xx provider errors, or
// any error with no structured status code (connection failures, timeouts),
// in llm.ErrTransientModel so the retry loop above can distinguish them
// from a terminal client error (bad request, auth failure) that retrying
// will never fix.
func classifyCompletionErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %v", llm.ErrTransientModel, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", llm.ErrTransientModel, err)
}

func toOpenAIRequest(model string, req llm.Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}

	oaiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.JSONMode {
		oaiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	for _, t := range req.Tools {
		oaiReq.Tools = append(oaiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return oaiReq
}

func fromOpenAIResponse(choice openai.ChatCompletionChoice) llm.Response {
	out := llm.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

// Smoke issues a minimal chat request to confirm the provider and model are
// reachable, for the CLI's model-smoke command. When cfg.PreferToolCalling
// is set it then offers a single probe tool and fails unless the model
// calls it.
func Smoke(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) error {
	c := New(cfg, logger)
	resp, err := c.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Reply with the single word: ok"},
		},
		MaxTokens: 8,
	})
	if err != nil {
		return fmt.Errorf("model smoke test failed: %w", err)
	}
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return errors.New("model smoke test: empty response")
	}
	if !cfg.PreferToolCalling {
		return nil
	}
	resp, err = c.Complete(ctx, llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Call the ping tool."}},
		Tools: []llm.Tool{{Name: "ping", Description: "Connectivity probe; takes no arguments.",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}}}},
		MaxTokens: 32,
	})
	if err != nil {
		return fmt.Errorf("model smoke test (tool calling) failed: %w", err)
	}
	if len(resp.ToolCalls) == 0 {
		return errors.New("model smoke test: model did not call the probe tool")
	}
	return nil
}
