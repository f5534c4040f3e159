package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/novalive/pkg/audio"
)

var (
	_ audio.Microphone = (*Pipe)(nil)
	_ audio.Microphone = (*ReaderMicrophone)(nil)
)

// streamBuffer is the number of sample blocks an opened stream buffers before
// new blocks are dropped.
const streamBuffer = 32

// Pipe is a microphone whose samples are pushed in by an external producer,
// for example a browser forwarding its capture over a WebSocket. Access must
// be granted with [Pipe.SetPermission] before Open succeeds.
//
// All methods are safe for concurrent use.
type Pipe struct {
	rate     int
	channels int

	mu      sync.Mutex
	granted bool
	stream  *pipeStream
	written time.Duration
}

// NewPipe returns a pipe microphone producing frames at sampleRate with the
// given channel count. Permission starts out denied.
func NewPipe(sampleRate, channels int) *Pipe {
	if channels < 1 {
		channels = 1
	}
	return &Pipe{rate: sampleRate, channels: channels}
}

// SetPermission records whether the producer granted microphone access.
func (p *Pipe) SetPermission(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = granted
}

// SetSampleRate changes the rate attached to subsequently written frames.
func (p *Pipe) SetSampleRate(rate int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rate > 0 {
		p.rate = rate
	}
}

// Open implements [audio.Microphone]. Opening replaces any previously opened
// stream, which is closed.
func (p *Pipe) Open(_ context.Context) (audio.InputStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.granted {
		return nil, fmt.Errorf("device: pipe: %w", audio.ErrPermissionDenied)
	}
	if p.stream != nil {
		p.stream.closeLocked()
	}
	p.stream = &pipeStream{p: p, frames: make(chan audio.SampleFrame, streamBuffer)}
	p.written = 0
	return p.stream, nil
}

// Write delivers interleaved samples to the open stream. It reports false
// when no stream is open or the stream buffer is full and the block was
// dropped. Write never blocks.
func (p *Pipe) Write(samples []float32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil || p.stream.closed || len(samples) == 0 {
		return false
	}
	frame := audio.SampleFrame{
		Samples:    samples,
		SampleRate: p.rate,
		Channels:   p.channels,
		Timestamp:  p.written,
	}
	select {
	case p.stream.frames <- frame:
		p.written += audio.FramesToDuration(len(samples)/p.channels, p.rate)
		return true
	default:
		return false
	}
}

// Active reports whether a stream is currently open.
func (p *Pipe) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil && !p.stream.closed
}

type pipeStream struct {
	p      *Pipe
	frames chan audio.SampleFrame
	closed bool
}

func (s *pipeStream) Frames() <-chan audio.SampleFrame { return s.frames }

func (s *pipeStream) Close() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.closeLocked()
	if s.p.stream == s {
		s.p.stream = nil
	}
	return nil
}

// closeLocked must be called with s.p.mu held.
func (s *pipeStream) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// DecodeFloat32 decodes little-endian IEEE-754 float32 samples. Trailing bytes
// that do not form a whole sample are ignored.
func DecodeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// EncodeFloat32 is the inverse of [DecodeFloat32].
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// ReaderMicrophone reads raw little-endian float32 mono samples from an
// [io.Reader] such as standard input. Only one stream may be open at a time.
type ReaderMicrophone struct {
	r         io.Reader
	rate      int
	blockSize int

	mu        sync.Mutex
	open      bool
	exhausted bool
}

// NewReaderMicrophone returns a microphone reading samples at sampleRate from
// r, delivering them in blocks of blockSize samples.
func NewReaderMicrophone(r io.Reader, sampleRate, blockSize int) *ReaderMicrophone {
	if blockSize <= 0 {
		blockSize = 1024
	}
	return &ReaderMicrophone{r: r, rate: sampleRate, blockSize: blockSize}
}

// Open implements [audio.Microphone]. It fails with [audio.ErrPermissionDenied]
// if a stream is already open or the reader was exhausted.
func (m *ReaderMicrophone) Open(ctx context.Context) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return nil, fmt.Errorf("device: reader microphone busy: %w", audio.ErrPermissionDenied)
	}
	if m.exhausted {
		return nil, fmt.Errorf("device: reader microphone exhausted: %w", audio.ErrPermissionDenied)
	}
	m.open = true

	ctx, cancel := context.WithCancel(ctx)
	s := &readerStream{
		m:      m,
		frames: make(chan audio.SampleFrame, streamBuffer),
		cancel: cancel,
	}
	go s.readLoop(ctx)
	return s, nil
}

type readerStream struct {
	m         *ReaderMicrophone
	frames    chan audio.SampleFrame
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *readerStream) Frames() <-chan audio.SampleFrame { return s.frames }

// Close stops delivery. A read already blocked on the underlying reader
// completes in the background and its data is discarded.
func (s *readerStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.m.mu.Lock()
		s.m.open = false
		s.m.mu.Unlock()
	})
	return nil
}

func (s *readerStream) readLoop(ctx context.Context) {
	defer close(s.frames)
	buf := make([]byte, s.m.blockSize*4)
	var ts time.Duration
	for {
		n, err := io.ReadFull(s.m.r, buf)
		if n >= 4 {
			samples := DecodeFloat32(buf[:n-n%4])
			frame := audio.SampleFrame{Samples: samples, SampleRate: s.m.rate, Channels: 1, Timestamp: ts}
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return
			}
			ts += audio.FramesToDuration(len(samples), s.m.rate)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.m.mu.Lock()
				s.m.exhausted = true
				s.m.mu.Unlock()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
