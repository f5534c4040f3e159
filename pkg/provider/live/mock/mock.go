// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and obtain controllable sessions. Each
// Session keeps the callbacks it was connected with, so a test can play the
// role of the remote service by calling Open, Deliver, Fail and CloseRemote.
//
// Example:
//
//	p := &mock.Provider{OpenOnConnect: true}
//	sess, _ := p.Connect(ctx, cfg, callbacks)
//	p.LastSession().Deliver(&live.Message{...})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/novalive/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// OpenOnConnect fires OnOpen synchronously before Connect returns.
	OpenOnConnect bool

	// OpenAfterConnect fires OnOpen on a new goroutine after Connect returns.
	OpenAfterConnect bool

	// SendErr is copied into every session created by Connect.
	SendErr error

	// BlockConnects makes that many of the next Connect calls block until
	// their context is done and return its error.
	BlockConnects int

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions  []*Session
	abandoned int
}

// Connect records the call and returns a new Session bound to cb.
func (p *Provider) Connect(ctx context.Context, cfg live.Config, cb live.Callbacks) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.BlockConnects > 0 {
		p.BlockConnects--
		p.mu.Unlock()
		<-ctx.Done()
		p.mu.Lock()
		p.abandoned++
		p.mu.Unlock()
		return nil, ctx.Err()
	}
	if p.ConnectErr != nil {
		err := p.ConnectErr
		p.mu.Unlock()
		return nil, err
	}
	s := &Session{cb: cb, SendErr: p.SendErr}
	p.sessions = append(p.sessions, s)
	openNow, openLater := p.OpenOnConnect, p.OpenAfterConnect
	p.mu.Unlock()

	if openNow {
		s.Open()
	}
	if openLater {
		go s.Open()
	}
	return s, nil
}

// ConnectCount returns the number of Connect calls.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Abandoned returns the number of blocked Connect calls that returned
// because their context was done.
func (p *Provider) Abandoned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abandoned
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Session is a mock implementation of live.Session. Callback helpers invoke
// the registered callbacks on the calling goroutine without holding any lock,
// so callbacks may call back into the session.
type Session struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// Sent records every successfully sent blob in order.
	Sent []live.Blob

	// CloseCalls is the number of times Close was called.
	CloseCalls int

	cb     live.Callbacks
	opened bool
	ended  bool
}

// SendRealtimeInput records b and returns SendErr.
func (s *Session) SendRealtimeInput(b live.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, b)
	return nil
}

// SetSendErr changes the error returned by SendRealtimeInput.
func (s *Session) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendErr = err
}

// SentBlobs returns a copy of the blobs sent so far.
func (s *Session) SentBlobs() []live.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.Blob(nil), s.Sent...)
}

// Close records the call and reports OnClose once, like a real session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	s.CloseRemote("session closed")
	return nil
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// Open fires OnOpen once.
func (s *Session) Open() {
	s.mu.Lock()
	if s.opened || s.ended {
		s.mu.Unlock()
		return
	}
	s.opened = true
	s.mu.Unlock()
	if s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
}

// Deliver fires OnMessage with msg unless the session already ended.
func (s *Session) Deliver(msg *live.Message) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return
	}
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(msg)
	}
}

// Fail fires OnError once as the terminal event.
func (s *Session) Fail(err error) {
	if !s.end() {
		return
	}
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// CloseRemote fires OnClose once as the terminal event.
func (s *Session) CloseRemote(reason string) {
	if !s.end() {
		return
	}
	if s.cb.OnClose != nil {
		s.cb.OnClose(reason)
	}
}

// end marks the session ended and reports whether this call did so.
func (s *Session) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}

// Audio builds a message carrying one inline audio part.
func Audio(data string) *live.Message {
	return &live.Message{ServerContent: &live.ServerContent{
		ModelTurn: &live.Content{Parts: []live.Part{{
			InlineData: &live.Blob{Data: data, MIMEType: "audio/pcm;rate=24000"},
		}}},
	}}
}

// OutputText builds a message carrying an output transcription fragment.
func OutputText(text string) *live.Message {
	return &live.Message{ServerContent: &live.ServerContent{
		OutputTranscription: &live.Transcription{Text: text},
	}}
}

// InputText builds a message carrying an input transcription fragment.
func InputText(text string) *live.Message {
	return &live.Message{ServerContent: &live.ServerContent{
		InputTranscription: &live.Transcription{Text: text},
	}}
}

// Interrupted builds an interruption message.
func Interrupted() *live.Message {
	return &live.Message{ServerContent: &live.ServerContent{Interrupted: true}}
}
