package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/novalive/internal/live"
	"github.com/MrWong99/novalive/pkg/audio/device"
)

const (
	// maxMessageSize bounds a single client frame: one second of float32
	// stereo at 48 kHz plus headroom.
	maxMessageSize = 1 << 20

	// writeTimeout bounds a single server frame write.
	writeTimeout = 5 * time.Second

	// defaultClientRate is assumed for microphone samples until a start
	// command names the browser's rate.
	defaultClientRate = 16000

	defaultPlaybackRate = 24000
)

// Client command types.
const (
	cmdStart = "start"
	cmdStop  = "stop"

	micGranted = "granted"
)

// Server message types.
const (
	msgState      = "state"
	msgTranscript = "transcript"
	msgError      = "error"
)

// Error kinds reported to the client.
const (
	KindPermission = "permission"
	KindConnection = "connection"
	KindTerminated = "terminated"
	KindState      = "state"
	KindProtocol   = "protocol"
	KindInternal   = "internal"
)

// clientMessage is a text frame sent by the browser.
type clientMessage struct {
	Type       string `json:"type"`
	Microphone string `json:"microphone,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// serverMessage is a text frame sent to the browser.
type serverMessage struct {
	Type      string      `json:"type"`
	State     string      `json:"state,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Turns     []live.Turn `json:"turns,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// ErrorKind maps a controller error to the kind reported to the client.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, live.ErrPermission):
		return KindPermission
	case errors.Is(err, live.ErrConnection):
		return KindConnection
	case errors.Is(err, live.ErrSessionTerminated):
		return KindTerminated
	case errors.Is(err, live.ErrInvalidState):
		return KindState
	default:
		return KindInternal
	}
}

// bridge connects one WebSocket to one controller. The browser's microphone
// feeds a [device.Pipe]; a [device.Renderer] mixes playback and streams it
// back as binary frames.
type bridge struct {
	srv         *Server
	id          string
	conn        *websocket.Conn
	remote      string
	connectedAt time.Time
	log         *slog.Logger

	pipe     *device.Pipe
	renderer *device.Renderer
	ctrl     *live.Controller

	cancel    context.CancelFunc
	starts    sync.WaitGroup
	closeOnce sync.Once
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	b := s.newBridge(conn, r.RemoteAddr, cancel)
	if !s.sessions.add(b.id, b) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.sessions.remove(b.id)

	b.serve(ctx)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) newBridge(conn *websocket.Conn, remote string, cancel context.CancelFunc) *bridge {
	st := s.settings()
	cfg := st.Controller
	rate := cfg.PlaybackSampleRate
	if rate <= 0 {
		rate = defaultPlaybackRate
	}
	channels := max(cfg.PlaybackChannels, 1)

	b := &bridge{
		srv:         s,
		id:          uuid.NewString(),
		conn:        conn,
		remote:      remote,
		connectedAt: time.Now().UTC(),
		cancel:      cancel,
		pipe:        device.NewPipe(defaultClientRate, 1),
	}
	b.log = s.log.With("connection_id", b.id)
	b.renderer = device.NewRenderer(rate, b.writeAudio,
		device.WithChannels(channels),
		device.WithRenderInterval(st.RenderInterval),
	)
	opts := []live.Option{
		live.WithLogger(b.log),
		live.WithMetrics(s.metrics),
		live.WithStateHandler(b.sendState),
		live.WithTranscriptHandler(b.sendTranscript),
		live.WithErrorHandler(b.sendError),
	}
	if s.recorder != nil {
		opts = append(opts, live.WithEndHandler(s.recorder.Record))
	}
	b.ctrl = live.NewController(s.provider, b.pipe, b.renderer, cfg, opts...)
	return b
}

// serve runs the renderer and the read loop until either ends, then stops
// the conversation.
func (b *bridge) serve(ctx context.Context) {
	b.log.Info("bridge connected", "remote", b.remote)
	b.sendState(live.StateIdle)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer b.cancel()
		return b.renderer.Run(gctx)
	})
	g.Go(func() error {
		defer b.cancel()
		return b.readLoop(gctx)
	})
	err := g.Wait()

	_ = b.ctrl.Stop()
	b.starts.Wait()
	// A start that was still acquiring the microphone may have connected
	// after the first stop.
	_ = b.ctrl.Stop()
	_ = b.renderer.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.log.Warn("bridge ended with error", "err", err)
		return
	}
	b.log.Info("bridge disconnected")
}

func (b *bridge) readLoop(ctx context.Context) error {
	for {
		typ, data, err := b.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("web: read: %w", err)
		}
		switch typ {
		case websocket.MessageBinary:
			b.pipe.Write(device.DecodeFloat32(data))
		case websocket.MessageText:
			b.handleCommand(ctx, data)
		}
	}
}

func (b *bridge) handleCommand(ctx context.Context, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.send(serverMessage{Type: msgError, Kind: KindProtocol, Message: "malformed command"})
		return
	}
	switch msg.Type {
	case cmdStart:
		b.start(ctx, msg)
	case cmdStop:
		_ = b.ctrl.Stop()
	default:
		b.send(serverMessage{Type: msgError, Kind: KindProtocol, Message: fmt.Sprintf("unknown command %q", msg.Type)})
	}
}

// start runs Controller.Start off the read loop so that a stop command or
// microphone samples can arrive while the session connects.
func (b *bridge) start(ctx context.Context, msg clientMessage) {
	b.pipe.SetPermission(msg.Microphone == micGranted)
	b.pipe.SetSampleRate(msg.SampleRate)

	b.starts.Add(1)
	go func() {
		defer b.starts.Done()
		err := b.ctrl.Start(ctx)
		switch {
		case err == nil:
		case errors.Is(err, live.ErrStopped):
			// The client stopped first and already saw the closed state.
			b.log.Debug("start abandoned", "err", err)
		default:
			b.log.Info("start failed", "err", err)
			b.sendError(err)
		}
	}()
}

func (b *bridge) writeAudio(pcm []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return b.conn.Write(ctx, websocket.MessageBinary, pcm)
}

func (b *bridge) send(msg serverMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, b.conn, msg); err != nil {
		b.log.Debug("dropping server message", "type", msg.Type, "err", err)
	}
}

func (b *bridge) sendState(st live.State) {
	b.send(serverMessage{Type: msgState, State: st.String(), SessionID: b.ctrl.SessionID()})
}

func (b *bridge) sendTranscript(turns []live.Turn) {
	b.send(serverMessage{Type: msgTranscript, Turns: turns})
}

func (b *bridge) sendError(err error) {
	b.send(serverMessage{Type: msgError, Kind: ErrorKind(err), Message: err.Error()})
}

func (b *bridge) info() SessionInfo {
	return SessionInfo{
		ConnectionID: b.id,
		SessionID:    b.ctrl.SessionID(),
		State:        b.ctrl.State().String(),
		RemoteAddr:   b.remote,
		ConnectedAt:  b.connectedAt,
	}
}

// shutdown stops the conversation and closes the socket with reason.
func (b *bridge) shutdown(reason string) {
	b.closeOnce.Do(func() {
		_ = b.ctrl.Stop()
		_ = b.conn.Close(websocket.StatusGoingAway, reason)
		b.cancel()
	})
}
