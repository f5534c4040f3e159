// Package web is the browser bridge of novalive.
//
// The browser acts as the audio device: it streams microphone samples over
// the /live WebSocket and plays back the PCM16 frames the server renders.
// Everything in between (capture chunking, the remote live session, playback
// scheduling and transcript aggregation) runs on the server in one
// [live.Controller] per connection.
//
// Routes:
//
//	GET  /live                          WebSocket bridge
//	GET  /api/sessions                  connected bridges
//	GET  /api/sessions/{id}/transcript  archived transcript of a conversation
//	POST /api/speech                    one-shot text to speech (audio/wav)
//	GET  /api/speech/voices             voices accepted by /api/speech
//	POST /api/chat                      text chat reply
//	GET  /api/chat/greeting             opening line of a chat
//	GET  /healthz, /readyz              see package health
//	GET  /metrics                       Prometheus scrape
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/novalive/internal/archive"
	"github.com/MrWong99/novalive/internal/health"
	"github.com/MrWong99/novalive/internal/live"
	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/pkg/provider/chat"
	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
	"github.com/MrWong99/novalive/pkg/provider/speech"
)

// archiveTimeout bounds a transcript archive read.
const archiveTimeout = 10 * time.Second

// LiveSettings is the per-connection configuration of the /live bridge. It is
// resolved once for every new WebSocket so that reloaded configuration applies
// to later connections only.
type LiveSettings struct {
	// Controller configures the conversation.
	Controller live.Config

	// RenderInterval is the tick of the output renderer. Zero uses the
	// renderer default.
	RenderInterval time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithLiveSettings sets the function resolving the bridge configuration for
// each new connection. Defaults to [live.DefaultConfig].
func WithLiveSettings(fn func() LiveSettings) Option {
	return func(s *Server) {
		if fn != nil {
			s.settings = fn
		}
	}
}

// WithSpeech enables /api/speech. def is the voice used when a request names
// none.
func WithSpeech(synth speech.Synthesizer, def string) Option {
	return func(s *Server) {
		s.speech = synth
		s.defaultVoice = def
	}
}

// WithChat enables /api/chat. settings is resolved for every request; nil
// sends requests without instructions or a history cap.
func WithChat(c chat.Chatter, settings func() ChatSettings) Option {
	return func(s *Server) {
		s.chat = c
		if settings != nil {
			s.chatSettings = settings
		}
	}
}

// WithRecorder archives every finished conversation through r.
func WithRecorder(r *archive.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithHealth mounts the health handler.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server serves the browser bridge. Create one with [New] and mount
// [Server.Handler] on an [http.Server].
type Server struct {
	provider liveapi.Provider
	store    archive.Store
	recorder *archive.Recorder
	settings func() LiveSettings

	speech       speech.Synthesizer
	defaultVoice string

	chat         chat.Chatter
	chatSettings func() ChatSettings

	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	log            *slog.Logger

	sessions *Sessions
}

// New creates a Server bridging browsers to provider. Archived transcripts
// are read from store; see [WithRecorder] for writing them.
func New(provider liveapi.Provider, store archive.Store, opts ...Option) *Server {
	s := &Server{
		provider:     provider,
		store:        store,
		settings:     func() LiveSettings { return LiveSettings{Controller: live.DefaultConfig()} },
		chatSettings: func() ChatSettings { return ChatSettings{} },
		metrics:      observe.DefaultMetrics(),
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.sessions = NewSessions()
	return s
}

// Sessions returns the registry of connected bridges.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Handler returns the routed handler wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("POST /api/speech", s.handleSpeech)
	mux.HandleFunc("GET /api/speech/voices", s.handleVoices)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/greeting", s.handleGreeting)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics, s.log)(mux)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
