// Package genai implements speech.Synthesizer with Gemini's text-to-speech
// models through the official Google Gen AI Go SDK.
package genai

import (
	"context"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/novalive/pkg/provider/speech"
	"google.golang.org/genai"
)

var _ speech.Synthesizer = (*Synthesizer)(nil)

const (
	// DefaultModel is the TTS model used when none is configured.
	DefaultModel = "gemini-2.5-flash-preview-tts"

	// DefaultVoice is the prebuilt voice used when a request names none.
	DefaultVoice = "Kore"

	// DefaultSampleRate is assumed when the response MIME type carries no rate.
	DefaultSampleRate = 24000
)

// DefaultVoices is the prebuilt voice catalogue offered by default.
var DefaultVoices = []string{"Kore", "Puck", "Charon", "Fenrir", "Zephyr"}

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the TTS model.
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(s *Synthesizer) { s.baseURL = u }
}

// WithVoices replaces the voice catalogue and default voice.
func WithVoices(def string, voices []string) Option {
	return func(s *Synthesizer) {
		if def != "" {
			s.defaultVoice = def
		}
		if len(voices) > 0 {
			s.voices = append([]string(nil), voices...)
		}
	}
}

// Synthesizer implements speech.Synthesizer via Models.GenerateContent.
type Synthesizer struct {
	apiKey       string
	model        string
	baseURL      string
	defaultVoice string
	voices       []string

	once     sync.Once
	generate generateFunc
	initErr  error
}

// New creates a Synthesizer. The SDK client is created on first use.
func New(apiKey string, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		apiKey:       apiKey,
		model:        DefaultModel,
		defaultVoice: DefaultVoice,
		voices:       append([]string(nil), DefaultVoices...),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Voices implements speech.Synthesizer.
func (s *Synthesizer) Voices() []string { return append([]string(nil), s.voices...) }

func (s *Synthesizer) client(ctx context.Context) (generateFunc, error) {
	s.once.Do(func() {
		if s.generate != nil {
			return
		}
		c, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      s.apiKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPOptions: genai.HTTPOptions{BaseURL: s.baseURL},
		})
		if err != nil {
			s.initErr = fmt.Errorf("genai speech: create client: %w", err)
			return
		}
		s.generate = c.Models.GenerateContent
	})
	return s.generate, s.initErr
}

// Synthesize implements speech.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req speech.Request) (speech.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return speech.Result{}, speech.ErrEmptyText
	}
	voice, err := speech.ResolveVoice(req.Voice, s.defaultVoice, s.voices)
	if err != nil {
		return speech.Result{}, fmt.Errorf("%w: %q", err, req.Voice)
	}
	generate, err := s.client(ctx)
	if err != nil {
		return speech.Result{}, err
	}

	resp, err := generate(ctx, s.model, genai.Text(speech.Prompt+req.Text), GenerateConfig(voice))
	if err != nil {
		return speech.Result{}, fmt.Errorf("genai speech: generate: %w", err)
	}
	return AudioFromResponse(resp)
}

// GenerateConfig returns the request configuration asking for spoken audio
// in voice.
func GenerateConfig(voice string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
	}
	if voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	return cfg
}

// AudioFromResponse returns the first inline audio part of resp.
func AudioFromResponse(resp *genai.GenerateContentResponse) (speech.Result, error) {
	if resp == nil {
		return speech.Result{}, speech.ErrNoAudio
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			return speech.Result{
				PCM:        part.InlineData.Data,
				SampleRate: RateFromMIME(part.InlineData.MIMEType),
			}, nil
		}
	}
	return speech.Result{}, speech.ErrNoAudio
}

// RateFromMIME extracts the rate parameter of an audio MIME type such as
// "audio/L16;codec=pcm;rate=24000", returning DefaultSampleRate when absent.
func RateFromMIME(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return DefaultSampleRate
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return DefaultSampleRate
	}
	return rate
}
