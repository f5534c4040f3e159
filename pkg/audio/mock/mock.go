// Package mock provides in-memory mock implementations of the
// [audio.Microphone] and [audio.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	out := &mock.Output{}
//	ctrl := live.NewController(provider, mic, out)
//	...
//	mic.Stream().Push(samples)
//	out.Advance(time.Second)
//	out.EndAll()
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/novalive/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Deny makes Open fail with [audio.ErrPermissionDenied].
	Deny bool

	// OpenErr, if non-nil, is returned by Open instead of a stream. Takes
	// precedence over Deny.
	OpenErr error

	// SampleRate and Channels describe frames pushed through opened streams.
	// Zero values default to 16000 Hz mono.
	SampleRate int
	Channels   int

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	streams []*InputStream
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountOpen++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.Deny {
		return nil, fmt.Errorf("mock microphone: %w", audio.ErrPermissionDenied)
	}
	rate, channels := m.SampleRate, m.Channels
	if rate == 0 {
		rate = 16000
	}
	if channels == 0 {
		channels = 1
	}
	s := &InputStream{
		frames:     make(chan audio.SampleFrame, 64),
		sampleRate: rate,
		channels:   channels,
	}
	m.streams = append(m.streams, s)
	return s, nil
}

// Stream returns the most recently opened stream, or nil if none was opened.
func (m *Microphone) Stream() *InputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// Streams returns every stream opened so far, in order.
func (m *Microphone) Streams() []*InputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*InputStream(nil), m.streams...)
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is the mock capture stream returned by [Microphone.Open].
type InputStream struct {
	mu         sync.Mutex
	frames     chan audio.SampleFrame
	sampleRate int
	channels   int
	closed     bool
	closeCalls int
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.SampleFrame { return s.frames }

// Push delivers one block of samples to the stream. It reports false if the
// stream was already closed.
func (s *InputStream) Push(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- audio.SampleFrame{Samples: samples, SampleRate: s.sampleRate, Channels: s.channels}
	return true
}

// Close implements [audio.InputStream]. Idempotent.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns how many times Close was called.
func (s *InputStream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── Output ───────────────────────────────────────────────────────────────────

// ScheduledSource records one call to [Output.Schedule].
type ScheduledSource struct {
	Buffer  audio.Buffer
	StartAt time.Duration

	out     *Output
	onEnded func()
	stopped bool
	ended   bool
}

// Stop implements [audio.Source].
func (s *ScheduledSource) Stop() {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	s.stopped = true
}

// Stopped reports whether Stop was called on the source.
func (s *ScheduledSource) Stopped() bool {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	return s.stopped
}

// Output is a mock implementation of [audio.Output] with a manually driven
// clock. Sources never end on their own; call [Output.End] or
// [Output.EndAll].
type Output struct {
	mu sync.Mutex

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	now     time.Duration
	sources []*ScheduledSource
}

// CurrentTime implements [audio.Output].
func (o *Output) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetTime sets the output clock.
func (o *Output) SetTime(t time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = t
}

// Advance moves the output clock forward by d.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// Schedule implements [audio.Output].
func (o *Output) Schedule(buf audio.Buffer, at time.Duration, onEnded func()) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleErr != nil {
		return nil, o.ScheduleErr
	}
	src := &ScheduledSource{Buffer: buf, StartAt: at, out: o, onEnded: onEnded}
	o.sources = append(o.sources, src)
	return src, nil
}

// Sources returns every source scheduled so far, in scheduling order.
func (o *Output) Sources() []*ScheduledSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*ScheduledSource(nil), o.sources...)
}

// End simulates natural completion of the i-th scheduled source. Stopped or
// already ended sources are ignored. The ended callback runs without the
// mock's lock held.
func (o *Output) End(i int) {
	o.mu.Lock()
	if i < 0 || i >= len(o.sources) {
		o.mu.Unlock()
		return
	}
	src := o.sources[i]
	if src.stopped || src.ended {
		o.mu.Unlock()
		return
	}
	src.ended = true
	cb := src.onEnded
	o.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// EndAll ends every source that is still playing.
func (o *Output) EndAll() {
	o.mu.Lock()
	n := len(o.sources)
	o.mu.Unlock()
	for i := range n {
		o.End(i)
	}
}

var (
	_ audio.Microphone  = (*Microphone)(nil)
	_ audio.InputStream = (*InputStream)(nil)
	_ audio.Output      = (*Output)(nil)
	_ audio.Source      = (*ScheduledSource)(nil)
)
