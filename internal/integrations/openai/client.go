// Package openai answers chat turns through any OpenAI-compatible Chat
// Completions endpoint (Groq by default).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"support-agent/internal/domain"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1/"
	DefaultModel   = "llama-3.3-70b-versatile"
)

// KeySource supplies the bearer token for each request.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// Client is a chat completions client for one model.
type Client struct {
	api   openai.Client
	keys  KeySource
	model string
}

type Option func(*settings)

type settings struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func WithBaseURL(baseURL string) Option {
	return func(s *settings) {
		if v := strings.TrimSpace(baseURL); v != "" {
			s.baseURL = v
		}
	}
}

func WithModel(model string) Option {
	return func(s *settings) {
		if v := strings.TrimSpace(model); v != "" {
			s.model = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *settings) {
		s.httpClient = httpClient
	}
}

// NewClient creates a Client. The API key is resolved from keys on every
// call so a lazily loaded parameter is fetched only when first needed.
func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("openai: key source must not be nil")
	}
	s := settings{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if !strings.HasSuffix(s.baseURL, "/") {
		s.baseURL += "/"
	}

	api := openai.NewClient(
		option.WithBaseURL(s.baseURL),
		option.WithHTTPClient(s.httpClient),
		// A single attempt per call; the caller owns the fallback.
		option.WithMaxRetries(0),
	)
	return &Client{api: api, keys: keys, model: s.model}, nil
}

// Chat returns the first choice of a chat completion.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("openai: messages must not be empty")
	}
	apiKey, err := c.keys.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("openai: resolve api key: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toMessageParams(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	params.Temperature = openai.Float(req.Temperature)

	resp, err := c.api.Chat.Completions.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai: chat completion: status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func toMessageParams(msgs []domain.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
