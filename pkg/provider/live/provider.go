// Package live defines the Provider interface for real-time conversational
// audio backends.
//
// A live provider wraps a streaming voice service that accepts microphone
// audio as base64-encoded PCM chunks and answers with synthesised speech,
// transcripts and interruption signals over a single long-lived connection.
// The Gemini Live API (BidiGenerateContent) is the reference backend.
//
// Unlike a request/response API, a live session is event driven: the provider
// reports the connection lifecycle and every server message through
// [Callbacks]. Implementations invoke the callbacks sequentially from one
// goroutine, so a callback never runs concurrently with another callback of
// the same session.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
)

// Blob is a chunk of media sent to or received from the service. Data holds
// the standard base64 encoding of the raw bytes.
type Blob struct {
	// Data is the base64-encoded payload.
	Data string

	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Config is the fixed configuration a session is opened with.
type Config struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Instructions is the system instruction that sets the assistant's
	// persona for the whole session.
	Instructions string

	// Voice selects a prebuilt voice for synthesised speech. Empty means the
	// service default.
	Voice string

	// OutputTranscription requests incremental transcripts of the model's
	// spoken output.
	OutputTranscription bool

	// InputTranscription requests incremental transcripts of the user's
	// speech as recognised by the service.
	InputTranscription bool
}

// Part is one element of a model turn. Exactly one of Text or InlineData is
// normally set.
type Part struct {
	Text       string
	InlineData *Blob
}

// Content is a model turn made of ordered parts.
type Content struct {
	Parts []Part
}

// Transcription is an incremental transcript fragment.
type Transcription struct {
	Text string
}

// ServerContent is the content-bearing portion of a server message.
type ServerContent struct {
	// ModelTurn carries synthesised audio as inline data parts.
	ModelTurn *Content

	// Interrupted signals that the user started speaking over the response
	// and every queued playback must be cancelled.
	Interrupted bool

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// OutputTranscription is a fragment of the model's spoken output.
	OutputTranscription *Transcription

	// InputTranscription is a fragment of the user's recognised speech.
	InputTranscription *Transcription
}

// Message is a single message received from the service.
type Message struct {
	// SetupComplete is set on the acknowledgement of the session setup.
	SetupComplete bool

	// ServerContent is nil for messages that carry no content.
	ServerContent *ServerContent
}

// AudioParts returns the inline-data parts of the model turn in order.
func (m *Message) AudioParts() []Blob {
	if m == nil || m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return nil
	}
	var out []Blob
	for _, p := range m.ServerContent.ModelTurn.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			out = append(out, *p.InlineData)
		}
	}
	return out
}

// Callbacks receives the session lifecycle and server messages. Nil fields
// are skipped.
//
// OnOpen fires exactly once, before any OnMessage, when the session is ready
// to accept input. It may fire before or after Connect returns. After OnError
// or OnClose no further OnMessage is delivered.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(*Message)
	OnError   func(error)
	OnClose   func(reason string)
}

// Session is an open live session.
type Session interface {
	// SendRealtimeInput delivers one media chunk to the service. It returns
	// an error if the session is closed or the write fails. Safe to call from
	// any goroutine, but chunks from concurrent callers are not ordered.
	SendRealtimeInput(b Blob) error

	// Close terminates the session. OnClose is invoked if it was not already.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live backend.
type Provider interface {
	// Connect opens a new session. Returns an error if the session cannot be
	// established (authentication failure, refused handshake, ctx cancelled).
	// The caller owns the Session and must Close it.
	Connect(ctx context.Context, cfg Config, cb Callbacks) (Session, error)
}
