// Package llm is a minimal client for an OpenAI-compatible chat completions
// endpoint. It implements intent.Planner; SQL generation itself happens
// outside this repository.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/datalumen/schemactx/internal/errs"
)

// Config holds connection settings for the completions endpoint.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1" or a local
	// gateway. The client POSTs to BaseURL + "/chat/completions".
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model is the model identifier passed through to the endpoint.
	Model string

	// Temperature for generation. Table selection wants it low.
	Temperature float64

	// MaxTokens caps the reply size. A table list is tiny.
	MaxTokens int

	// Timeout bounds each request end to end.
	Timeout time.Duration
}

// DefaultConfig returns settings tuned for table selection.
func DefaultConfig(baseURL, apiKey, model string) *Config {
	return &Config{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.1,
		MaxTokens:   512,
		Timeout:     30 * time.Second,
	}
}

// Client talks to one chat completions endpoint.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client from cfg.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "llm base URL is required")
	}
	if cfg.Model == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "llm model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{cfg: *cfg, http: &http.Client{Timeout: timeout}}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends prompt as a single user message and returns the raw reply
// text. Implements intent.Planner.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", errs.Wrap(errs.ErrKindIntentFailed, "failed to encode planner request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errs.Wrap(errs.ErrKindIntentFailed, "failed to build planner request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", errs.Wrap(errs.ErrKindTimeout, "planner call timed out", err)
		}
		return "", errs.Wrap(errs.ErrKindIntentFailed, "planner call failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errs.Wrap(errs.ErrKindIntentFailed, "failed to read planner reply", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.Newf(errs.ErrKindIntentFailed, "planner returned HTTP %d: %s",
			resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", errs.Wrap(errs.ErrKindIntentFailed, "failed to decode planner reply", err)
	}
	if parsed.Error != nil {
		return "", errs.Newf(errs.ErrKindIntentFailed, "planner error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errs.New(errs.ErrKindIntentFailed, "planner reply had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s…", s[:n])
}
