// Package config provides the configuration schema, loader, provider registry
// and file watcher for the novalive bridge.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/novalive/internal/live"
	"github.com/MrWong99/novalive/pkg/provider/chat"
	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a slog level. Unknown or empty levels map to Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Live   LiveConfig   `yaml:"live"`
	Speech SpeechConfig `yaml:"speech"`
	Chat   ChatConfig   `yaml:"chat"`
	Store  StoreConfig  `yaml:"store"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default info.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation.
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider. Empty uses its default.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// LiveConfig configures live conversations.
type LiveConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// SystemInstruction is sent with every session setup.
	SystemInstruction string `yaml:"system_instruction"`

	// AssistantName labels the model's transcript turns. Default "Nova".
	AssistantName string `yaml:"assistant_name"`

	// UserName labels the input transcription turns. Default "User".
	UserName string `yaml:"user_name"`

	// Voice is an optional prebuilt voice for the model's speech.
	Voice string `yaml:"voice"`

	// InputTranscription asks the service to transcribe the microphone.
	InputTranscription bool `yaml:"input_transcription"`

	Capture      CaptureConfig      `yaml:"capture"`
	Playback     PlaybackConfig     `yaml:"playback"`
	ConnectGuard ConnectGuardConfig `yaml:"connect_guard"`
}

// CaptureConfig sizes the capture pipeline.
type CaptureConfig struct {
	SampleRate   int `yaml:"sample_rate"`
	FrameSamples int `yaml:"frame_samples"`
	SendQueue    int `yaml:"send_queue"`
}

// PlaybackConfig describes received audio and the output device.
type PlaybackConfig struct {
	SampleRate     int           `yaml:"sample_rate"`
	Channels       int           `yaml:"channels"`
	RenderInterval time.Duration `yaml:"render_interval"`
}

// ConnectGuardConfig tunes the circuit breaker around session connects.
type ConnectGuardConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// SpeechConfig configures one-shot speech synthesis. Synthesis is disabled
// when Provider.Name is empty.
type SpeechConfig struct {
	Provider     ProviderEntry `yaml:"provider"`
	DefaultVoice string        `yaml:"default_voice"`
	Voices       []string      `yaml:"voices"`
}

// ChatConfig configures text chat. Chat is disabled when Provider.Name is
// empty. Fallbacks are tried in order while the primary fails.
type ChatConfig struct {
	Provider  ProviderEntry   `yaml:"provider"`
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// SystemInstruction is sent with every chat request.
	SystemInstruction string `yaml:"system_instruction"`

	// MaxHistory caps the earlier turns accepted with a request. Default 50.
	MaxHistory int `yaml:"max_history"`
}

// StoreConfig configures the transcript archive.
type StoreConfig struct {
	// PostgresDSN selects the PostgreSQL archive. Empty keeps transcripts in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Chat.SystemInstruction == "" {
		cfg.Chat.SystemInstruction = chat.DefaultInstructions
	}
	if cfg.Chat.MaxHistory == 0 {
		cfg.Chat.MaxHistory = 50
	}

	l := &cfg.Live
	if l.SystemInstruction == "" {
		l.SystemInstruction = live.DefaultInstructions
	}
	if l.AssistantName == "" {
		l.AssistantName = live.DefaultAssistantRole
	}
	if l.UserName == "" {
		l.UserName = live.DefaultUserRole
	}
	if l.Capture.SampleRate == 0 {
		l.Capture.SampleRate = 16000
	}
	if l.Capture.FrameSamples == 0 {
		l.Capture.FrameSamples = 4096
	}
	if l.Capture.SendQueue == 0 {
		l.Capture.SendQueue = 32
	}
	if l.Playback.SampleRate == 0 {
		l.Playback.SampleRate = 24000
	}
	if l.Playback.Channels == 0 {
		l.Playback.Channels = 1
	}
	if l.Playback.RenderInterval == 0 {
		l.Playback.RenderInterval = 20 * time.Millisecond
	}
	if l.ConnectGuard.MaxFailures == 0 {
		l.ConnectGuard.MaxFailures = 5
	}
	if l.ConnectGuard.ResetTimeout == 0 {
		l.ConnectGuard.ResetTimeout = 30 * time.Second
	}
}

// ControllerConfig returns the per-conversation configuration described by
// the live section.
func (l LiveConfig) ControllerConfig() live.Config {
	return live.Config{
		Session: liveapi.Config{
			Model:               l.Provider.Model,
			Instructions:        l.SystemInstruction,
			Voice:               l.Voice,
			OutputTranscription: true,
			InputTranscription:  l.InputTranscription,
		},
		AssistantRole: l.AssistantName,
		UserRole:      l.UserName,
		Capture: live.CaptureConfig{
			SampleRate:   l.Capture.SampleRate,
			FrameSamples: l.Capture.FrameSamples,
			SendQueue:    l.Capture.SendQueue,
		},
		PlaybackSampleRate: l.Playback.SampleRate,
		PlaybackChannels:   l.Playback.Channels,
	}
}
