// Package genai implements chat.Chatter with Gemini text models through the
// official Google Gen AI Go SDK.
package genai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/novalive/pkg/provider/chat"
	"google.golang.org/genai"
)

var _ chat.Chatter = (*Chatter)(nil)

// DefaultModel is the text model used when none is configured.
const DefaultModel = "gemini-3-flash-preview"

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Option is a functional option for configuring a Chatter.
type Option func(*Chatter)

// WithModel sets the text model.
func WithModel(model string) Option {
	return func(c *Chatter) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Chatter) { c.baseURL = u }
}

// WithInstructions sets the system instruction used for requests that carry
// none. Defaults to [chat.DefaultInstructions].
func WithInstructions(s string) Option {
	return func(c *Chatter) {
		if s != "" {
			c.instructions = s
		}
	}
}

// Chatter implements chat.Chatter via Models.GenerateContent.
type Chatter struct {
	apiKey       string
	model        string
	baseURL      string
	instructions string

	once     sync.Once
	generate generateFunc
	initErr  error
}

// New creates a Chatter. The SDK client is created on first use.
func New(apiKey string, opts ...Option) *Chatter {
	c := &Chatter{
		apiKey:       apiKey,
		model:        DefaultModel,
		instructions: chat.DefaultInstructions,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Chatter) client(ctx context.Context) (generateFunc, error) {
	c.once.Do(func() {
		if c.generate != nil {
			return
		}
		cl, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      c.apiKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
		})
		if err != nil {
			c.initErr = fmt.Errorf("genai chat: create client: %w", err)
			return
		}
		c.generate = cl.Models.GenerateContent
	})
	return c.generate, c.initErr
}

// Reply implements chat.Chatter.
func (c *Chatter) Reply(ctx context.Context, req chat.Request) (chat.Response, error) {
	if err := req.Validate(); err != nil {
		return chat.Response{}, err
	}
	generate, err := c.client(ctx)
	if err != nil {
		return chat.Response{}, err
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.InstructionsOr(c.instructions)}}},
	}
	resp, err := generate(ctx, c.model, Contents(req), cfg)
	if err != nil {
		return chat.Response{}, fmt.Errorf("genai chat: generate: %w", err)
	}
	text, err := TextFromResponse(resp)
	if err != nil {
		return chat.Response{}, err
	}
	return chat.Response{Text: text}, nil
}

// Contents converts the history and new message of req into SDK contents.
func Contents(req chat.Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		out = append(out, &genai.Content{Role: m.Role, Parts: []*genai.Part{{Text: m.Text}}})
	}
	return append(out, &genai.Content{Role: chat.RoleUser, Parts: []*genai.Part{{Text: req.Text}}})
}

// TextFromResponse joins the text parts of the first candidate that has any.
// Thought summaries are skipped.
func TextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", chat.ErrNoText
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			return text, nil
		}
	}
	return "", chat.ErrNoText
}
