// Command novalive is the entry point of the real-time audio streaming bridge.
//
// By default it serves the browser bridge over HTTP. With -local it runs a
// single conversation in the terminal: raw float32 little-endian mono
// microphone samples on stdin, rendered PCM16 output on stdout and the
// transcript on stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/novalive/internal/app"
	"github.com/MrWong99/novalive/internal/archive"
	"github.com/MrWong99/novalive/internal/config"
	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/pkg/provider/chat"
	genaichat "github.com/MrWong99/novalive/pkg/provider/chat/genai"
	openaichat "github.com/MrWong99/novalive/pkg/provider/chat/openai"
	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
	geminilive "github.com/MrWong99/novalive/pkg/provider/live/gemini"
	genailive "github.com/MrWong99/novalive/pkg/provider/live/genai"
	"github.com/MrWong99/novalive/pkg/provider/speech"
	genaispeech "github.com/MrWong99/novalive/pkg/provider/speech/genai"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	local := flag.Bool("local", false, "run one conversation on stdin/stdout instead of serving HTTP")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "novalive: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "novalive: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("novalive starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"local", *local,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "novalive", ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Speech, cfg.Chat)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	if *local {
		return runLocal(ctx, cfg, providers.Live, metrics)
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(&level, old, new)
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithConfigSource(watcher.Current),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler()),
		app.WithProviderCheck(reg.HasLive),
		app.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runLocal bridges one conversation to the terminal.
func runLocal(ctx context.Context, cfg *config.Config, provider liveapi.Provider, metrics *observe.Metrics) int {
	var store archive.Store = archive.NewMemStore()
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := archive.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open transcript archive", "err", err)
			return 1
		}
		store = pg
	}
	defer store.Close()

	l := app.Local{
		Live:       cfg.Live,
		Provider:   provider,
		Store:      store,
		In:         os.Stdin,
		Out:        os.Stdout,
		Transcript: os.Stderr,
		Logger:     slog.Default(),
		Metrics:    metrics,
	}
	if err := l.Run(ctx); err != nil {
		slog.Error("conversation ended with error", "err", err)
		return 1
	}
	return 0
}

// applyReload reacts to a changed config file. The log level applies at once,
// the live section to conversations started afterwards.
func applyReload(level *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LiveChanged {
		slog.Info("live configuration reloaded, applies to new conversations")
		if !reflect.DeepEqual(old.Live.Provider, new.Live.Provider) {
			slog.Warn("live provider changes take effect after a restart")
		}
	}
	if d.SpeechChanged {
		slog.Warn("speech configuration changes take effect after a restart")
	}
	if d.ChatChanged {
		slog.Info("chat instructions reloaded, apply to the next request")
		if !reflect.DeepEqual(old.Chat.Provider, new.Chat.Provider) || !reflect.DeepEqual(old.Chat.Fallbacks, new.Chat.Fallbacks) {
			slog.Warn("chat provider changes take effect after a restart")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes require a restart", "sections", d.RestartRequired)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, sc config.SpeechConfig, cc config.ChatConfig) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (liveapi.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("genai", func(entry config.ProviderEntry) (liveapi.Provider, error) {
		var opts []genailive.Option
		if entry.Model != "" {
			opts = append(opts, genailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(entry.BaseURL))
		}
		return genailive.New(entry.APIKey, opts...), nil
	})

	// ── Speech ────────────────────────────────────────────────────────────────

	reg.RegisterSpeech("genai", func(entry config.ProviderEntry) (speech.Synthesizer, error) {
		var opts []genaispeech.Option
		if entry.Model != "" {
			opts = append(opts, genaispeech.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genaispeech.WithBaseURL(entry.BaseURL))
		}
		if sc.DefaultVoice != "" || len(sc.Voices) > 0 {
			opts = append(opts, genaispeech.WithVoices(sc.DefaultVoice, sc.Voices))
		}
		return genaispeech.New(entry.APIKey, opts...), nil
	})

	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("genai", func(entry config.ProviderEntry) (chat.Chatter, error) {
		opts := []genaichat.Option{genaichat.WithInstructions(cc.SystemInstruction)}
		if entry.Model != "" {
			opts = append(opts, genaichat.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genaichat.WithBaseURL(entry.BaseURL))
		}
		return genaichat.New(entry.APIKey, opts...), nil
	})

	reg.RegisterChat("openai", func(entry config.ProviderEntry) (chat.Chatter, error) {
		opts := []openaichat.Option{openaichat.WithInstructions(cc.SystemInstruction)}
		if entry.Model != "" {
			opts = append(opts, openaichat.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openaichat.WithBaseURL(entry.BaseURL))
		}
		if org, ok := entry.Options["organization"].(string); ok {
			opts = append(opts, openaichat.WithOrganization(org))
		}
		c, err := openaichat.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	live, err := reg.CreateLive(cfg.Live.Provider)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Live.Provider.Name, err)
	}
	ps.Live = live
	slog.Info("provider created", "kind", "live", "name", cfg.Live.Provider.Name)

	if name := cfg.Speech.Provider.Name; name != "" {
		p, err := reg.CreateSpeech(cfg.Speech.Provider)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("speech provider not available, /api/speech disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create speech provider %q: %w", name, err)
		} else {
			ps.Speech = p
			slog.Info("provider created", "kind", "speech", "name", name)
		}
	}

	if name := cfg.Chat.Provider.Name; name != "" {
		p, err := reg.CreateChat(cfg.Chat.Provider)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("chat provider not available, /api/chat disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create chat provider %q: %w", name, err)
		} else {
			ps.Chat = p
			slog.Info("provider created", "kind", "chat", "name", name)
			for _, entry := range cfg.Chat.Fallbacks {
				fb, err := reg.CreateChat(entry)
				if err != nil {
					slog.Warn("chat fallback skipped", "name", entry.Name, "err", err)
					continue
				}
				ps.ChatFallbacks = append(ps.ChatFallbacks, app.NamedChatter{Name: entry.Name, Chatter: fb})
				slog.Info("provider created", "kind", "chat-fallback", "name", entry.Name)
			}
		}
	}
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        novalive: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", providerLabel(cfg.Live.Provider))
	printRow("Speech", providerLabel(cfg.Speech.Provider))
	printRow("Chat", providerLabel(cfg.Chat.Provider))
	printRow("Capture", fmt.Sprintf("%d Hz / %d", cfg.Live.Capture.SampleRate, cfg.Live.Capture.FrameSamples))
	printRow("Playback", fmt.Sprintf("%d Hz / %d ch", cfg.Live.Playback.SampleRate, cfg.Live.Playback.Channels))
	if cfg.Store.PostgresDSN != "" {
		printRow("Archive", "postgres")
	} else {
		printRow("Archive", "memory")
	}
	printRow("Connect guard", fmt.Sprintf("%d / %s", cfg.Live.ConnectGuard.MaxFailures, cfg.Live.ConnectGuard.ResetTimeout))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(p config.ProviderEntry) string {
	switch {
	case p.Name == "":
		return "(not configured)"
	case p.Model != "":
		return p.Name + " / " + p.Model
	default:
		return p.Name
	}
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", label, value)
}
