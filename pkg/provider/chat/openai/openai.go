// Package openai implements chat.Chatter with the OpenAI chat completions
// API, or any service speaking the same protocol.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/novalive/pkg/provider/chat"
)

var _ chat.Chatter = (*Chatter)(nil)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o-mini"

// config holds optional configuration for the Chatter.
type config struct {
	model        string
	baseURL      string
	organization string
	instructions string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Chatter.
type Option func(*config)

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithInstructions sets the system instruction used for requests that carry
// none. Defaults to [chat.DefaultInstructions].
func WithInstructions(s string) Option {
	return func(c *config) {
		if s != "" {
			c.instructions = s
		}
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries a failed request. Negative
// keeps the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// Chatter implements chat.Chatter using the OpenAI API.
type Chatter struct {
	client       oai.Client
	model        string
	instructions string
}

// New constructs a Chatter.
func New(apiKey string, opts ...Option) (*Chatter, error) {
	if apiKey == "" {
		return nil, errors.New("openai chat: apiKey must not be empty")
	}
	cfg := &config{
		model:        DefaultModel,
		instructions: chat.DefaultInstructions,
		maxRetries:   -1,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Chatter{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.model,
		instructions: cfg.instructions,
	}, nil
}

// Reply implements chat.Chatter.
func (c *Chatter) Reply(ctx context.Context, req chat.Request) (chat.Response, error) {
	if err := req.Validate(); err != nil {
		return chat.Response{}, err
	}

	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return chat.Response{}, fmt.Errorf("openai chat: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return chat.Response{}, chat.ErrNoText
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return chat.Response{}, chat.ErrNoText
	}
	return chat.Response{Text: text}, nil
}

// buildParams converts a chat.Request into OpenAI SDK params.
func (c *Chatter) buildParams(req chat.Request) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, oai.SystemMessage(req.InstructionsOr(c.instructions)))
	for _, m := range req.History {
		if m.Role == chat.RoleModel {
			asst := oai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = oai.String(m.Text)
			messages = append(messages, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
			continue
		}
		messages = append(messages, oai.UserMessage(m.Text))
	}
	messages = append(messages, oai.UserMessage(req.Text))

	return oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
}
