// Package app wires the novalive subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates the transcript
// archive, guards the live provider, builds the browser bridge and the HTTP
// server; Run serves until the context is cancelled; Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithArchive,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/novalive/internal/archive"
	"github.com/MrWong99/novalive/internal/config"
	"github.com/MrWong99/novalive/internal/health"
	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/internal/resilience"
	"github.com/MrWong99/novalive/internal/web"
	"github.com/MrWong99/novalive/pkg/provider/chat"
	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
	"github.com/MrWong99/novalive/pkg/provider/speech"
)

// shutdownTimeout bounds the shutdown Run performs when its context ends.
const shutdownTimeout = 15 * time.Second

// Providers holds one interface value per provider slot. Nil Speech disables
// /api/speech, nil Chat disables /api/chat. Populated by main.go via the
// config registry.
type Providers struct {
	Live   liveapi.Provider
	Speech speech.Synthesizer
	Chat   chat.Chatter

	// ChatFallbacks are tried in order while Chat fails.
	ChatFallbacks []NamedChatter
}

// NamedChatter is a chat backend with the name it is reported under.
type NamedChatter struct {
	Name    string
	Chatter chat.Chatter
}

// App owns all subsystem lifetimes of the bridge server.
type App struct {
	cfg       *config.Config
	providers *Providers
	current   func() *config.Config

	log            *slog.Logger
	metrics        *observe.Metrics
	metricsHandler http.Handler
	registered     func(string) bool

	// Subsystems, initialised in New and torn down in Shutdown.
	store    archive.Store
	recorder *archive.Recorder
	guard    *resilience.ConnectGuard
	speech   speech.Synthesizer
	chat     *resilience.ChatFallback
	server   *web.Server
	httpSrv  *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects a transcript archive instead of creating one from
// config. The App takes ownership and closes it on Shutdown.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.store = s }
}

// WithConfigSource sets the function returning the live configuration for
// each new conversation, typically [config.Watcher.Current]. Defaults to the
// config passed to New.
func WithConfigSource(fn func() *config.Config) Option {
	return func(a *App) { a.current = fn }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithProviderCheck adds a readiness check that the configured live provider
// name is known to registered, typically [config.Registry.HasLive].
func WithProviderCheck(registered func(string) bool) Option {
	return func(a *App) { a.registered = registered }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: archive connection and
// migration, connect guard, provider failover and HTTP routing. It does not
// start listening; call Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: a live provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.current == nil {
		a.current = func() *config.Config { return cfg }
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript archive ────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 2. Resilience ────────────────────────────────────────────────────
	a.guard = resilience.NewConnectGuard(providers.Live, resilience.CircuitBreakerConfig{
		Name:         "live-connect",
		MaxFailures:  cfg.Live.ConnectGuard.MaxFailures,
		ResetTimeout: cfg.Live.ConnectGuard.ResetTimeout,
		Logger:       a.log,
	})
	if providers.Speech != nil {
		a.speech = resilience.NewSpeechFallback(providers.Speech, cfg.Speech.Provider.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Logger: a.log},
		})
	}

	if providers.Chat != nil {
		a.chat = resilience.NewChatFallback(providers.Chat, cfg.Chat.Provider.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Logger: a.log},
		})
		for _, fb := range providers.ChatFallbacks {
			a.chat.AddFallback(fb.Name, fb.Chatter)
		}
		a.log.Info("chat ready", "backends", a.chat.Names())
	}

	// ── 3. Browser bridge ────────────────────────────────────────────────
	webOpts := []web.Option{
		web.WithLiveSettings(a.liveSettings),
		web.WithRecorder(a.recorder),
		web.WithHealth(health.New(a.checkers()...)),
		web.WithMetrics(a.metrics),
		web.WithLogger(a.log),
	}
	if a.speech != nil {
		webOpts = append(webOpts, web.WithSpeech(a.speech, cfg.Speech.DefaultVoice))
	}
	if a.chat != nil {
		webOpts = append(webOpts, web.WithChat(a.chat, a.chatSettings))
	}
	if a.metricsHandler != nil {
		webOpts = append(webOpts, web.WithMetricsHandler(a.metricsHandler))
	}
	a.server = web.New(a.guard, a.store, webOpts...)

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	return a, nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
			store, err := archive.NewPostgresStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = store
			a.log.Info("transcript archive ready", "backend", "postgres")
		} else {
			a.store = archive.NewMemStore()
			a.log.Info("transcript archive ready", "backend", "memory")
		}
	}
	a.recorder = archive.NewRecorder(a.store, a.metrics, archive.WithRecorderLogger(a.log))
	// The recorder flushes before the store it writes to closes.
	a.closers = append(a.closers, a.recorder.Close, func(context.Context) error {
		a.store.Close()
		return nil
	})
	return nil
}

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{
		health.PingChecker("archive", a.store),
		{Name: "live-connect", Check: func(context.Context) error {
			if st := a.guard.State(); st == resilience.StateOpen {
				return fmt.Errorf("circuit %s", st)
			}
			return nil
		}},
	}
	if a.registered != nil {
		checks = append(checks, health.RegisteredChecker("live-provider", a.cfg.Live.Provider.Name, a.registered))
	}
	return checks
}

// liveSettings resolves the bridge configuration from the current config so
// that a reload applies to conversations started afterwards.
func (a *App) liveSettings() web.LiveSettings {
	cfg := a.current()
	if cfg == nil {
		cfg = a.cfg
	}
	return web.LiveSettings{
		Controller:     cfg.Live.ControllerConfig(),
		RenderInterval: cfg.Live.Playback.RenderInterval,
	}
}

// chatSettings resolves the chat configuration from the current config.
func (a *App) chatSettings() web.ChatSettings {
	cfg := a.current()
	if cfg == nil {
		cfg = a.cfg
	}
	return web.ChatSettings{
		Instructions: cfg.Chat.SystemInstruction,
		MaxHistory:   cfg.Chat.MaxHistory,
	}
}

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Sessions returns the registry of connected bridges.
func (a *App) Sessions() *web.Sessions { return a.server.Sessions() }

// ConnectGuard returns the circuit breaker guarding live connects.
func (a *App) ConnectGuard() *resilience.ConnectGuard { return a.guard }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// the App down. A cancelled ctx is a clean exit and returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. Serve takes ownership of ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tls := a.cfg.Server.TLS
		a.log.Info("http server listening", "addr", ln.Addr().String(), "tls", tls != nil)
		var err error
		if tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops every bridge, drains the HTTP server and closes the
// subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned. Later calls return the first call's result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "bridges", a.server.Sessions().Count(), "closers", len(a.closers))

		// Hijacked WebSockets are not drained by http.Server.Shutdown.
		a.server.Sessions().CloseAll("server shutting down")
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
		}
		if err := a.server.Sessions().Wait(ctx); err != nil {
			a.log.Warn("bridges did not finish in time", "remaining", a.server.Sessions().Count())
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				a.stopErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return a.stopErr
}
