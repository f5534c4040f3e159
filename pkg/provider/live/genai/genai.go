// Package genai implements the live.Provider interface on top of the official
// Google Gen AI Go SDK (google.golang.org/genai).
//
// It is an alternative to the raw WebSocket implementation in package gemini:
// the SDK owns the connection, authentication and protocol framing, and this
// package adapts its blocking Receive loop to the live.Callbacks model.
package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/novalive/pkg/provider/live"
	"google.golang.org/genai"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

// DefaultModel is the native-audio model used when no model is configured.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

// ErrSessionClosed is returned by SendRealtimeInput after the session ended.
var ErrSessionClosed = errors.New("genai: session closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// Provider implements live.Provider using a shared genai.Client.
type Provider struct {
	apiKey  string
	model   string
	baseURL string

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// New creates a Provider. The SDK client is created lazily on the first
// Connect so that construction never performs I/O.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: DefaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the default model name used for new sessions.
func (p *Provider) Model() string { return p.model }

func (p *Provider) sdk(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		p.client, p.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      p.apiKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPOptions: genai.HTTPOptions{BaseURL: p.baseURL},
		})
	})
	if p.clientErr != nil {
		return nil, fmt.Errorf("genai: create client: %w", p.clientErr)
	}
	return p.client, nil
}

// ConnectConfig translates cfg into the SDK's connect configuration.
func ConnectConfig(cfg live.Config) *genai.LiveConnectConfig {
	cc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Instructions != "" {
		cc.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}
	if cfg.Voice != "" {
		cc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.OutputTranscription {
		cc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.InputTranscription {
		cc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return cc
}

// Connect opens a live session through the SDK. OnOpen is delivered from the
// session's receive goroutine after Connect returns.
func (p *Provider) Connect(ctx context.Context, cfg live.Config, cb live.Callbacks) (live.Session, error) {
	client, err := p.sdk(ctx)
	if err != nil {
		return nil, err
	}
	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	sdkSess, err := client.Live.Connect(ctx, model, ConnectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	s := &session{sdk: sdkSess, cb: cb}
	go s.receiveLoop()
	return s, nil
}

type session struct {
	sdk *genai.Session
	cb  live.Callbacks

	mu     sync.Mutex
	closed bool

	finishOnce sync.Once
}

func (s *session) receiveLoop() {
	if s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
	for {
		msg, err := s.sdk.Receive()
		if err != nil {
			if s.isClosed() {
				s.finish(nil, "session closed")
			} else {
				s.finish(fmt.Errorf("genai: receive: %w", err), "")
			}
			return
		}
		if msg == nil || msg.ServerContent == nil {
			continue
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(ToMessage(msg))
		}
	}
}

// ToMessage converts an SDK server message into the provider-neutral form.
// Inline audio bytes are re-encoded as standard base64.
func ToMessage(msg *genai.LiveServerMessage) *live.Message {
	out := &live.Message{SetupComplete: msg.SetupComplete != nil}
	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	content := &live.ServerContent{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.ModelTurn != nil {
		turn := &live.Content{}
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			lp := live.Part{Text: p.Text}
			if p.InlineData != nil {
				lp.InlineData = &live.Blob{
					Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
					MIMEType: p.InlineData.MIMEType,
				}
			}
			turn.Parts = append(turn.Parts, lp)
		}
		content.ModelTurn = turn
	}
	if sc.OutputTranscription != nil {
		content.OutputTranscription = &live.Transcription{Text: sc.OutputTranscription.Text}
	}
	if sc.InputTranscription != nil {
		content.InputTranscription = &live.Transcription{Text: sc.InputTranscription.Text}
	}
	out.ServerContent = content
	return out
}

func (s *session) finish(err error, reason string) {
	s.finishOnce.Do(func() {
		s.markClosed()
		if err != nil {
			if s.cb.OnError != nil {
				s.cb.OnError(err)
			}
		} else if s.cb.OnClose != nil {
			s.cb.OnClose(reason)
		}
	})
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) markClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.sdk.Close()
}

// SendRealtimeInput decodes the base64 payload and forwards it as realtime
// audio input.
func (s *session) SendRealtimeInput(b live.Blob) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	data, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return fmt.Errorf("genai: decode realtime input: %w", err)
	}
	if err := s.sdk.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: data, MIMEType: b.MIMEType},
	}); err != nil {
		return fmt.Errorf("genai: send realtime input: %w", err)
	}
	return nil
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.markClosed()
	return nil
}
