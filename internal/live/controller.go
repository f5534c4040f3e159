// Package live implements the real-time audio bridge between a microphone, a
// remote live conversation service and an audio output.
//
// A [Controller] owns one conversation at a time. It acquires the microphone,
// opens the remote session, starts a [Capture] pipeline once the session is
// open and routes every server message: audio to the [Scheduler],
// interruption signals to [Scheduler.Interrupt] and transcript fragments to
// the [Transcript]. Every exit path (local stop, remote error, remote close)
// runs the same idempotent teardown.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/pkg/audio"
	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
)

// State is the lifecycle state of a [Controller].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Default transcript roles.
const (
	DefaultAssistantRole = "Nova"
	DefaultUserRole      = "User"
)

// DefaultInstructions is the system instruction used when none is configured.
const DefaultInstructions = "You are Nova, a witty and fast-talking conversational AI. Keep your answers brief and spoken-word friendly."

// Config is the fixed per-conversation configuration.
type Config struct {
	// Session is passed to the provider on every Connect.
	Session liveapi.Config

	// AssistantRole labels output transcription fragments.
	AssistantRole string

	// UserRole labels input transcription fragments.
	UserRole string

	// Capture sizes the capture pipeline.
	Capture CaptureConfig

	// PlaybackSampleRate is the rate of received audio. Default 24000.
	PlaybackSampleRate int

	// PlaybackChannels is the channel count of received audio. Default 1.
	PlaybackChannels int
}

// DefaultConfig returns the configuration of the reference assistant.
func DefaultConfig() Config {
	return Config{
		Session: liveapi.Config{
			Instructions:        DefaultInstructions,
			OutputTranscription: true,
		},
		AssistantRole:      DefaultAssistantRole,
		UserRole:           DefaultUserRole,
		Capture:            CaptureConfig{}.withDefaults(),
		PlaybackSampleRate: 24000,
		PlaybackChannels:   1,
	}
}

func (c Config) withDefaults() Config {
	if c.AssistantRole == "" {
		c.AssistantRole = DefaultAssistantRole
	}
	if c.UserRole == "" {
		c.UserRole = DefaultUserRole
	}
	if c.PlaybackSampleRate <= 0 {
		c.PlaybackSampleRate = 24000
	}
	if c.PlaybackChannels <= 0 {
		c.PlaybackChannels = 1
	}
	c.Capture = c.Capture.withDefaults()
	return c
}

// Summary describes a finished conversation.
type Summary struct {
	SessionID string
	Started   time.Time
	Ended     time.Time
	Turns     []Turn

	// Err is nil for a local Stop and wraps [ErrSessionTerminated] for a
	// remote error or close.
	Err error
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the base logger. Each session adds a session_id attribute.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.baseLog = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithStateHandler registers a callback for every state transition.
func WithStateHandler(fn func(State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// WithTranscriptHandler registers a callback receiving the full transcript
// after every merged fragment.
func WithTranscriptHandler(fn func([]Turn)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// WithErrorHandler registers a callback for asynchronous session errors.
// Errors returned from Start are not reported here.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// WithEndHandler registers a callback invoked once per conversation that
// reached Connecting, after teardown completed.
func WithEndHandler(fn func(Summary)) Option {
	return func(c *Controller) { c.onEnd = fn }
}

// Controller drives one live conversation at a time through the states
// Idle, Connecting, Open and Closed. A closed controller may be started again.
//
// All exported methods are safe for concurrent use. Handlers registered via
// options are invoked without internal locks held.
type Controller struct {
	provider liveapi.Provider
	mic      audio.Microphone
	cfg      Config

	baseLog      *slog.Logger
	metrics      *observe.Metrics
	onState      func(State)
	onTranscript func([]Turn)
	onError      func(error)
	onEnd        func(Summary)

	scheduler  *Scheduler
	transcript Transcript

	mu        sync.Mutex
	state     State
	starting  bool
	epoch     uint64
	sessionID string
	started   time.Time
	log       *slog.Logger
	stream    audio.InputStream
	sess      liveapi.Session
	opened    bool
	capture   *Capture

	// cancelConnect abandons the pending Connect of a connecting
	// conversation; nil otherwise.
	cancelConnect context.CancelFunc
}

// NewController returns an idle controller.
func NewController(p liveapi.Provider, mic audio.Microphone, out audio.Output, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		provider: p,
		mic:      mic,
		cfg:      cfg.withDefaults(),
		baseLog:  slog.Default(),
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.baseLog
	c.scheduler = NewScheduler(out, c.cfg.PlaybackSampleRate, c.cfg.PlaybackChannels, c.baseLog, c.metrics)
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the ID of the current or last conversation, or "" if
// none was started.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Transcript returns a snapshot of the current conversation's turns.
func (c *Controller) Transcript() []Turn { return c.transcript.Turns() }

// Playback returns the controller's playback scheduler.
func (c *Controller) Playback() *Scheduler { return c.scheduler }

// CaptureStats returns the chunk counters of the running capture pipeline,
// or zero values if none is running.
func (c *Controller) CaptureStats() CaptureStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return CaptureStats{}
	}
	return c.capture.Stats()
}

// Start acquires the microphone and connects the remote session. It returns
// once the connection attempt finished; capture begins when the session
// reports it is open.
//
// Start is valid from Idle and Closed. It returns an error wrapping
// [ErrPermission] if the microphone is unavailable (state stays Idle, no
// connection is attempted), [ErrConnection] if the remote session cannot be
// established (state returns to Idle), [ErrStopped] if Stop or a remote end
// closed the conversation before the connection attempt finished, and
// [ErrInvalidState] if a conversation is already connecting or open.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting || c.state == StateConnecting || c.state == StateOpen {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, st)
	}
	// starting covers the microphone request; from Connecting on the state
	// itself rejects a second Start.
	c.starting = true
	c.mu.Unlock()

	stream, err := c.mic.Open(ctx)
	if err != nil {
		c.mu.Lock()
		c.starting = false
		log := c.log
		c.mu.Unlock()
		c.metrics.RecordSessionStart(ctx, observe.OutcomePermissionDenied)
		c.setState(StateIdle)
		log.Warn("microphone unavailable", "err", err)
		return fmt.Errorf("%w: %w", ErrPermission, err)
	}

	c.transcript.Reset()
	c.scheduler.StopAll()

	// Stop cancels connCtx to abandon a pending connection attempt.
	connCtx, cancelConnect := context.WithCancel(ctx)
	defer cancelConnect()

	c.mu.Lock()
	c.starting = false
	c.epoch++
	epoch := c.epoch
	c.sessionID = uuid.NewString()
	c.started = time.Now()
	c.log = c.baseLog.With("session_id", c.sessionID)
	c.stream = stream
	c.sess = nil
	c.opened = false
	c.capture = nil
	c.cancelConnect = cancelConnect
	c.state = StateConnecting
	log, sessionID := c.log, c.sessionID
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	connCtx, span := observe.StartSpan(connCtx, "live.connect",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	began := time.Now()
	sess, err := c.provider.Connect(connCtx, c.cfg.Session, c.callbacks(epoch))
	c.metrics.ConnectDuration.Record(ctx, time.Since(began).Seconds())
	if err != nil {
		if c.leftConnecting(epoch) {
			log.Info("connection attempt abandoned", "err", err)
			return fmt.Errorf("%w: %w", ErrStopped, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		c.metrics.RecordSessionStart(ctx, observe.OutcomeConnectFailed)
		c.metrics.RecordProviderError(ctx, "live", "connect")
		log.Error("live session connect failed", "err", err)
		c.abortConnect(epoch)
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnecting {
		// Stopped or terminated while connecting.
		c.mu.Unlock()
		_ = sess.Close()
		return ErrStopped
	}
	c.cancelConnect = nil
	c.sess = sess
	opened := c.opened && c.openLocked(ctx)
	c.mu.Unlock()

	if opened {
		c.notifyState(StateOpen)
	}
	log.Info("live session connected")
	return nil
}

// leftConnecting reports whether the conversation identified by epoch was
// stopped or terminated while its connection attempt was pending.
func (c *Controller) leftConnecting(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch != epoch || c.state != StateConnecting
}

// abortConnect releases the microphone after a failed connect and returns
// the controller to Idle.
func (c *Controller) abortConnect(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	stream := c.stream
	c.stream = nil
	c.cancelConnect = nil
	c.state = StateIdle
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	c.notifyState(StateIdle)
}

// callbacks binds the provider callbacks to one conversation so that late
// events from an earlier session are ignored.
func (c *Controller) callbacks(epoch uint64) liveapi.Callbacks {
	return liveapi.Callbacks{
		OnOpen:    func() { c.handleOpen(epoch) },
		OnMessage: func(m *liveapi.Message) { c.handleMessage(epoch, m) },
		OnError: func(err error) {
			c.teardown(epoch, fmt.Errorf("%w: %w", ErrSessionTerminated, err))
		},
		OnClose: func(reason string) {
			c.teardown(epoch, fmt.Errorf("%w: closed by remote: %q", ErrSessionTerminated, reason))
		},
	}
}

func (c *Controller) handleOpen(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnecting || c.opened {
		c.mu.Unlock()
		return
	}
	c.opened = true
	// Connect has not returned yet; Start finishes the transition.
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	opened := c.openLocked(context.Background())
	c.mu.Unlock()
	if opened {
		c.notifyState(StateOpen)
	}
}

// openLocked moves a connecting conversation whose session is known and
// announced open into Open and starts capture. Must be called with c.mu held.
func (c *Controller) openLocked(ctx context.Context) bool {
	if c.state != StateConnecting || c.sess == nil || !c.opened {
		return false
	}
	c.state = StateOpen
	c.capture = StartCapture(c.stream, c.sess, c.cfg.Capture, c.log, c.metrics)
	c.metrics.RecordSessionStart(ctx, observe.OutcomeOpen)
	c.metrics.ActiveSessions.Add(ctx, 1)
	c.log.Info("live session open")
	return true
}

func (c *Controller) handleMessage(epoch uint64, msg *liveapi.Message) {
	if msg == nil || msg.ServerContent == nil {
		return
	}

	c.mu.Lock()
	log := c.log
	if c.epoch != epoch || c.state != StateOpen {
		st := c.state
		c.mu.Unlock()
		log.Debug("dropping message outside open session", "state", st)
		return
	}

	for _, blob := range msg.AudioParts() {
		if _, err := c.scheduler.Enqueue(blob.Data); err != nil {
			log.Warn("dropping playback chunk", "err", err)
		}
	}
	sc := msg.ServerContent
	if sc.Interrupted {
		c.scheduler.Interrupt()
	}

	var turns []Turn
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		turns = c.transcript.Add(c.cfg.UserRole, t.Text)
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		turns = c.transcript.Add(c.cfg.AssistantRole, t.Text)
	}
	c.mu.Unlock()

	if turns != nil && c.onTranscript != nil {
		c.onTranscript(turns)
	}
}

// Stop closes the current conversation. It is valid from Connecting and
// Open; from Idle or Closed it is a no-op. Stopping a connecting
// conversation cancels its pending connection attempt. Stop is idempotent
// and returns once the microphone is released and all playback is stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.teardown(epoch, nil)
	return nil
}

// teardown moves the conversation identified by epoch to Closed and releases
// every resource it holds. Later calls for the same conversation are no-ops.
func (c *Controller) teardown(epoch uint64, cause error) {
	c.mu.Lock()
	if c.epoch != epoch || (c.state != StateConnecting && c.state != StateOpen) {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateOpen
	c.state = StateClosed
	sess, capture, stream := c.sess, c.capture, c.stream
	c.sess, c.capture, c.stream = nil, nil, nil
	cancelConnect := c.cancelConnect
	c.cancelConnect = nil
	summary := Summary{SessionID: c.sessionID, Started: c.started}
	log := c.log
	c.mu.Unlock()

	if cancelConnect != nil {
		cancelConnect()
	}

	if sess != nil {
		if err := sess.Close(); err != nil {
			log.Warn("closing live session", "err", err)
		}
	}
	if capture != nil {
		if err := capture.Stop(); err != nil {
			log.Warn("releasing microphone", "err", err)
		}
	} else if stream != nil {
		if err := stream.Close(); err != nil {
			log.Warn("releasing microphone", "err", err)
		}
	}
	stopped := c.scheduler.StopAll()

	if wasOpen {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if cause != nil {
		log.Warn("live session terminated", "err", cause)
	} else {
		log.Info("live session stopped", "stopped_sources", stopped)
	}

	c.notifyState(StateClosed)
	if cause != nil && c.onError != nil {
		c.onError(cause)
	}
	if c.onEnd != nil {
		summary.Ended = time.Now()
		summary.Turns = c.transcript.Turns()
		summary.Err = cause
		c.onEnd(summary)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notifyState(s)
	}
}

func (c *Controller) notifyState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

// IsTerminated reports whether err reports a remote-initiated session end.
func IsTerminated(err error) bool { return errors.Is(err, ErrSessionTerminated) }
