// Package llm provides a rate-limited client for OpenAI-compatible chat
// completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/tnsehq/tnse/internal/config"
)

var (
	// ErrAuth indicates rejected credentials; never retried.
	ErrAuth = errors.New("llm authentication failed")
	// ErrRateLimited indicates a 429 from the provider.
	ErrRateLimited = errors.New("llm rate limited")
	// ErrBadResponse indicates malformed provider output; never retried.
	ErrBadResponse = errors.New("llm returned malformed response")
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token counts for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request describes one completion call.
type Request struct {
	Messages    []Message
	Temperature float64
	// JSONMode asks the provider for a guaranteed JSON object response.
	JSONMode  bool
	MaxTokens int
}

// CompletionResult is the outcome of one completion call.
type CompletionResult struct {
	Content    string
	Usage      Usage
	Model      string
	DurationMS int64
	// ParsedJSON holds the decoded object when JSONMode was requested.
	ParsedJSON map[string]any
}

// Client talks to an OpenAI-compatible chat completion endpoint with a
// client-side requests-per-minute bucket and bounded retries.
type Client struct {
	cfg        config.LLMConfig
	logger     *slog.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a Client from configuration.
func NewClient(log *slog.Logger, cfg config.LLMConfig) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		logger:     log.With(slog.String("service", "llm")),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.cfg.Model }

type apiRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type apiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete performs one chat completion. Rate-limit and timeout errors are
// retried with exponential backoff; authentication and parse errors are not.
func (c *Client) Complete(ctx context.Context, req Request) (CompletionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return CompletionResult{}, err
	}

	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	var result CompletionResult
	err := backoff.Retry(func() error {
		start := time.Now()
		res, err := c.post(ctx, req)
		if err != nil {
			if errors.Is(err, ErrAuth) || errors.Is(err, ErrBadResponse) || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("llm call failed, retrying", slog.Any("error", err))
			return err
		}
		res.DurationMS = time.Since(start).Milliseconds()
		result = res
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts)), ctx))
	if err != nil {
		return CompletionResult{}, err
	}

	if req.JSONMode {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
			// Tokens were consumed even though the content is unusable;
			// callers need the usage to keep the cost ledger honest.
			return result, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		result.ParsedJSON = parsed
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, req Request) (CompletionResult, error) {
	payload := apiRequest{
		Model:       c.cfg.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return CompletionResult{}, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return CompletionResult{}, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400:
		return CompletionResult{}, fmt.Errorf("llm status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return CompletionResult{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if parsed.Error != nil {
		return CompletionResult{}, fmt.Errorf("llm error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	model := parsed.Model
	if model == "" {
		model = c.cfg.Model
	}
	return CompletionResult{
		Content: parsed.Choices[0].Message.Content,
		Usage:   parsed.Usage,
		Model:   model,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
