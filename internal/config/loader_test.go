package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/novalive/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "missing live provider",
			yaml:    "server:\n  log_level: info\n",
			wantErr: []string{"live.provider.name is required"},
		},
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: bananas\nlive:\n  provider:\n    name: genai\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name: "bad capture and playback",
			yaml: `
live:
  provider: {name: genai}
  capture: {sample_rate: -1, frame_samples: -4, send_queue: -2}
  playback: {sample_rate: -1, channels: 3}
`,
			wantErr: []string{
				"live.capture.sample_rate",
				"live.capture.frame_samples",
				"live.capture.send_queue",
				"live.playback.sample_rate",
				"live.playback.channels",
			},
		},
		{
			name: "default voice not offered",
			yaml: `
live:
  provider: {name: genai}
speech:
  default_voice: Robot
  voices: [Kore, Puck, Kore]
`,
			wantErr: []string{"speech.default_voice", "duplicate"},
		},
		{
			name: "chat fallbacks without a primary",
			yaml: `
live:
  provider: {name: genai}
chat:
  fallbacks:
    - {api_key: sk-test}
  max_history: -1
`,
			wantErr: []string{"chat.fallbacks requires", "chat.fallbacks[0].name", "chat.max_history"},
		},
		{
			name:    "incomplete tls",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\nlive:\n  provider: {name: genai}\n",
			wantErr: []string{"server.tls"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q should mention %q", err, want)
				}
			}
		})
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := "live:\n  provider:\n    name: third-party-live\nspeech:\n  provider:\n    name: other-tts\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should not fail validation: %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Live.Provider.Name != "gemini-live" {
		t.Errorf("live provider = %q, want gemini-live", cfg.Live.Provider.Name)
	}
	if cfg.Speech.DefaultVoice != "Kore" || len(cfg.Speech.Voices) != 5 {
		t.Errorf("speech = %+v", cfg.Speech)
	}
	if cfg.Chat.Provider.Name != "genai" || len(cfg.Chat.Fallbacks) != 1 || cfg.Chat.Fallbacks[0].Name != "openai" {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if cfg.Live.ConnectGuard.MaxFailures != 5 {
		t.Errorf("connect_guard.max_failures = %d, want 5", cfg.Live.ConnectGuard.MaxFailures)
	}
}
