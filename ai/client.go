// Package ai provides the decision engine client: an OpenRouter-compatible
// chat completions API with retries and process-wide rate limiting.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stewardhq/steward/errors"
	"github.com/stewardhq/steward/internal/httpclient"
)

const (
	// DefaultModel is the fallback model when none is specified.
	// Should match the default in config/defaults.go for consistency.
	DefaultModel = "openai/gpt-4o-mini"

	// DefaultBaseURL is the OpenRouter API root
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	defaultTemperature = 0.2
	defaultMaxTokens   = 1000
	maxRetries         = 3
)

// Config holds decision engine client configuration
type Config struct {
	APIKey      string
	BaseURL     string // empty = OpenRouter
	Model       string
	Temperature *float64 // nil = use default (0.2)
	MaxTokens   *int     // nil = use default (1000)

	// RequestsPerMinute bounds outbound calls process-wide; 0 disables limiting
	RequestsPerMinute int

	Logger *zap.SugaredLogger // nil = nop logger
}

// Client talks to an OpenRouter-compatible chat completions endpoint
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.SaferClient
	config     Config
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
}

// NewClient creates a decision engine client with steward defaults
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == nil {
		t := defaultTemperature
		config.Temperature = &t
	}
	if config.MaxTokens == nil {
		m := defaultMaxTokens
		config.MaxTokens = &m
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), config.RequestsPerMinute)
	}

	// SSRF-safer HTTP client: blocks private IPs, localhost, metadata
	// endpoints, dangerous schemes. The base URL is operator-configured, but
	// a misconfigured or hostile value should still not reach the inside.
	saferClient := httpclient.NewSaferClient(120 * time.Second)

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: saferClient,
		config:     config,
		limiter:    limiter,
		logger:     logger,
	}
}

// ChatCompletionRequest represents a request to the chat completions endpoint
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a message in a chat completion
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a high-level request to the engine
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64 // Override default temperature
	MaxTokens    *int     // Override default max tokens
	Model        *string  // Override default model
}

// ChatResponse represents the engine response
type ChatResponse struct {
	Content string
	Usage   Usage
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CreateChatCompletion sends one chat completion request, no retries
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Title", "steward")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &chatResp, nil
}

// Chat sends a chat completion request with rate limiting and retry on
// transient network errors. The context bounds the whole exchange including
// any limiter wait and retry backoff.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("decision engine API key not configured")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter wait")
		}
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	c.logger.Debugw("Engine chat request",
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
	)

	messages := []Message{}
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: req.UserPrompt})

	completionReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var resp *ChatCompletionResponse
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			c.logger.Debugw("Retrying engine request",
				"attempt", attempt, "max_retries", maxRetries-1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "engine request cancelled")
			case <-time.After(delay):
			}
		}

		resp, err = c.CreateChatCompletion(ctx, completionReq)
		if err == nil {
			if attempt > 0 {
				c.logger.Infow("Engine request succeeded after retries", "attempts", attempt+1, "model", model)
			}
			break
		}

		c.logger.Warnw("Engine API error",
			"attempt", attempt+1, "max_retries", maxRetries,
			"error", err, "model", model)

		if isRetryableError(err) {
			continue
		}

		return nil, errors.Wrap(err, "engine API error")
	}

	if err != nil {
		return nil, errors.Wrapf(err, "engine API error after %d retries", maxRetries)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices from engine")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)

	c.logger.Debugw("Engine response",
		"content_length", len(content),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
	)

	return &ChatResponse{Content: content, Usage: resp.Usage}, nil
}

// Complete is the single-turn convenience used by the scheduler pipeline
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.Chat(ctx, ChatRequest{SystemPrompt: systemPrompt, UserPrompt: userPrompt})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// IsConfigured returns true if the client has a valid API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient allows overriding the HTTP client for testing.
// Production code should use the default SSRF-safer client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}

// isRetryableError checks if an error is worth retrying (network-related)
func isRetryableError(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}

	if opErr, ok := err.(*net.OpError); ok {
		if errno, ok := opErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
				return true
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	networkErrors := []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	}
	for _, s := range networkErrors {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}
