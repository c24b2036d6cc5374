// Package anthropic answers chat turns through the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"support-agent/internal/domain"
)

const (
	DefaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 512
)

// KeySource supplies the API key for each request.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

type Client struct {
	api   anthropic.Client
	keys  KeySource
	model anthropic.Model
}

type Option func(*settings)

type settings struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func WithBaseURL(baseURL string) Option {
	return func(s *settings) { s.baseURL = strings.TrimSpace(baseURL) }
}

func WithModel(model string) Option {
	return func(s *settings) {
		if v := strings.TrimSpace(model); v != "" {
			s.model = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *settings) { s.httpClient = httpClient }
}

func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("anthropic: key source must not be nil")
	}
	s := settings{
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&s)
	}

	clientOpts := []option.RequestOption{
		option.WithHTTPClient(s.httpClient),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		if !strings.HasSuffix(s.baseURL, "/") {
			s.baseURL += "/"
		}
		clientOpts = append(clientOpts, option.WithBaseURL(s.baseURL))
	}
	return &Client{
		api:   anthropic.NewClient(clientOpts...),
		keys:  keys,
		model: anthropic.Model(s.model),
	}, nil
}

// Chat sends system turns as the system prompt and the remaining turns as
// alternating messages, merging consecutive turns of the same role.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (string, error) {
	system, messages := splitTurns(req.Messages)
	if len(messages) == 0 {
		return "", errors.New("anthropic: at least one user or assistant turn is required")
	}
	apiKey, err := c.keys.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("anthropic: resolve api key: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.api.Messages.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("anthropic: messages: status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("anthropic: messages: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	return b.String(), nil
}

type turn struct {
	role string
	text []string
}

func splitTurns(msgs []domain.ChatMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system []anthropic.TextBlockParam
		turns  []turn
	)
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			continue
		}
		role := domain.RoleUser
		if m.Role == domain.RoleAssistant {
			role = domain.RoleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text = append(turns[n-1].text, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, text: []string{m.Content}})
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.role == domain.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return system, messages
}
