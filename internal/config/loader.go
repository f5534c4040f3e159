package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// [Validate] warns about names outside these lists.
var ValidProviderNames = map[string][]string{
	"live":   {"gemini-live", "genai"},
	"speech": {"genai"},
	"chat":   {"genai", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	l := cfg.Live
	if l.Provider.Name == "" {
		errs = append(errs, errors.New("live.provider.name is required"))
	}
	validateProviderName("live", l.Provider.Name)
	if l.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("live.capture.sample_rate %d must be positive", l.Capture.SampleRate))
	}
	if l.Capture.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("live.capture.frame_samples %d must be positive", l.Capture.FrameSamples))
	}
	if l.Capture.SendQueue < 1 {
		errs = append(errs, fmt.Errorf("live.capture.send_queue %d must be at least 1", l.Capture.SendQueue))
	}
	if l.Playback.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("live.playback.sample_rate %d must be positive", l.Playback.SampleRate))
	}
	if l.Playback.Channels < 1 || l.Playback.Channels > 2 {
		errs = append(errs, fmt.Errorf("live.playback.channels %d is out of range [1, 2]", l.Playback.Channels))
	}
	if l.Playback.RenderInterval < 0 {
		errs = append(errs, fmt.Errorf("live.playback.render_interval %v must not be negative", l.Playback.RenderInterval))
	}
	if l.ConnectGuard.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("live.connect_guard.max_failures %d must not be negative", l.ConnectGuard.MaxFailures))
	}
	if l.ConnectGuard.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.connect_guard.reset_timeout %v must not be negative", l.ConnectGuard.ResetTimeout))
	}
	if l.Provider.APIKey == "" {
		slog.Warn("live.provider.api_key is empty; sessions will fail to authenticate unless the provider needs no key")
	}

	s := cfg.Speech
	validateProviderName("speech", s.Provider.Name)
	if s.DefaultVoice != "" && len(s.Voices) > 0 && !slices.Contains(s.Voices, s.DefaultVoice) {
		errs = append(errs, fmt.Errorf("speech.default_voice %q is not listed in speech.voices", s.DefaultVoice))
	}
	seen := make(map[string]int, len(s.Voices))
	for i, v := range s.Voices {
		if v == "" {
			errs = append(errs, fmt.Errorf("speech.voices[%d] is empty", i))
			continue
		}
		if prev, ok := seen[v]; ok {
			errs = append(errs, fmt.Errorf("speech.voices[%d] %q is a duplicate of speech.voices[%d]", i, v, prev))
		}
		seen[v] = i
	}

	c := cfg.Chat
	validateProviderName("chat", c.Provider.Name)
	if c.Provider.Name == "" && len(c.Fallbacks) > 0 {
		errs = append(errs, errors.New("chat.fallbacks requires chat.provider.name"))
	}
	for i, fb := range c.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("chat.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("chat", fb.Name)
	}
	if c.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("chat.max_history %d must not be negative", c.MaxHistory))
	}

	if cfg.Store.PostgresDSN == "" {
		slog.Debug("store.postgres_dsn is empty; transcripts are archived in memory")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
