// Package scoring sends rendered checklist prompts to an OpenAI-compatible
// chat completions endpoint and returns the model's raw text answer.
// Interpreting that text is the checklist package's job.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-review-backend/internal/checklist"
)

// ErrEmptyResponse is returned when the endpoint answers without choices.
var ErrEmptyResponse = errors.New("scoring: empty response")

// Scorer produces raw scoring output for a prompt.
type Scorer interface {
	Score(ctx context.Context, p checklist.Prompt) (string, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, p checklist.Prompt) (string, error)

func (f ScorerFunc) Score(ctx context.Context, p checklist.Prompt) (string, error) {
	return f(ctx, p)
}

// Options configure Client.
type Options struct {
	BaseURL     string // e.g. http://localhost:8000/v1
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float32
	TopP        float32
	Timeout     time.Duration
}

// Client scores prompts through an OpenAI-compatible chat completions API
// (OpenAI itself, vLLM, TGI).
type Client struct {
	api  *openai.Client
	opts Options
}

// NewClient returns a Client. Zero-valued sampling options fall back to
// low-temperature defaults suited to structured answers.
func NewClient(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = "Qwen/Qwen2.5-3B-Instruct"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 700
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	if opts.TopP == 0 {
		opts.TopP = 0.8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   opts.Timeout,
		Transport: &http.Transport{MaxIdleConnsPerHost: 4},
	}
	return &Client{api: openai.NewClientWithConfig(cfg), opts: opts}
}

// Score sends the prompt and returns the first choice's content verbatim.
func (c *Client) Score(ctx context.Context, p checklist.Prompt) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		TopP:        c.opts.TopP,
	})
	if err != nil {
		return "", wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// wrapErr keeps the upstream status and message and drops the SDK's
// formatting.
func wrapErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("scoring: status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Err == nil {
			return fmt.Errorf("scoring: status %d", reqErr.HTTPStatusCode)
		}
		return fmt.Errorf("scoring: status %d: %w", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return fmt.Errorf("scoring: %w", err)
}
