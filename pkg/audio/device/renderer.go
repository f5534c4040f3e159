// Package device provides software implementations of the audio device
// abstractions: a [Renderer] output with a sample-accurate clock and two
// microphones fed from outside the process ([Pipe], [ReaderMicrophone]).
package device

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/novalive/pkg/audio"
	"github.com/MrWong99/novalive/pkg/audio/pcm"
)

// Compile-time interface assertions.
var (
	_ audio.Output = (*Renderer)(nil)
	_ audio.Source = (*voice)(nil)
)

// DefaultRenderInterval is how often [Renderer.Run] mixes and emits audio.
const DefaultRenderInterval = 20 * time.Millisecond

// RendererOption configures a [Renderer] during construction.
type RendererOption func(*Renderer)

// WithRenderInterval sets the tick interval used by [Renderer.Run].
// Non-positive values are ignored.
func WithRenderInterval(d time.Duration) RendererOption {
	return func(r *Renderer) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithChannels sets the number of interleaved output channels (default 1).
func WithChannels(n int) RendererOption {
	return func(r *Renderer) {
		if n > 0 {
			r.channels = n
		}
	}
}

// Renderer is a software [audio.Output]. Scheduled sources are mixed into
// PCM16 little-endian frames which are handed to a sink. The output clock
// advances by exactly the number of frames rendered, so [Renderer.CurrentTime]
// reflects how much audio has left the device.
//
// All exported methods are safe for concurrent use.
type Renderer struct {
	sink     func([]byte) error
	rate     int
	channels int
	interval time.Duration

	mu     sync.Mutex
	pos    int64 // frames rendered so far
	seq    uint64
	voices map[uint64]*voice
	closed bool
}

type voice struct {
	r       *Renderer
	id      uint64
	buf     audio.Buffer
	start   int64 // output frame at which the buffer starts
	onEnded func()
}

// NewRenderer creates a renderer producing audio at sampleRate. sink receives
// each rendered block in order; a sink error stops [Renderer.Run].
func NewRenderer(sampleRate int, sink func([]byte) error, opts ...RendererOption) *Renderer {
	r := &Renderer{
		sink:     sink,
		rate:     sampleRate,
		channels: 1,
		interval: DefaultRenderInterval,
		voices:   make(map[uint64]*voice),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SampleRate returns the output sample rate in Hz.
func (r *Renderer) SampleRate() int { return r.rate }

// Channels returns the number of interleaved output channels.
func (r *Renderer) Channels() int { return r.channels }

// CurrentTime implements [audio.Output].
func (r *Renderer) CurrentTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return audio.FramesToDuration(int(r.pos), r.rate)
}

// Schedule implements [audio.Output]. Buffers at a different sample rate are
// resampled to the output rate.
func (r *Renderer) Schedule(buf audio.Buffer, at time.Duration, onEnded func()) (audio.Source, error) {
	if buf.SampleRate != r.rate && buf.SampleRate > 0 {
		buf = resampleBuffer(buf, r.rate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, audio.ErrOutputClosed
	}
	start := audio.DurationToFrames(at, r.rate)
	if start < r.pos {
		start = r.pos
	}
	r.seq++
	v := &voice{r: r, id: r.seq, buf: buf, start: start, onEnded: onEnded}
	r.voices[v.id] = v
	return v, nil
}

// Playing returns the number of sources that are scheduled or playing.
func (r *Renderer) Playing() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.voices)
}

// Stop implements [audio.Source].
func (v *voice) Stop() {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	delete(v.r.voices, v.id)
}

// RenderFrames mixes the next n frames, advances the output clock and returns
// the block as PCM16. Ended callbacks of sources that finished within the
// block run after the internal lock is released. Returns nil after Close.
func (r *Renderer) RenderFrames(n int) []byte {
	if n <= 0 {
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	mix := make([]float32, n*r.channels)
	from, to := r.pos, r.pos+int64(n)
	var ended []func()
	for id, v := range r.voices {
		frames := int64(v.buf.Frames())
		end := v.start + frames
		lo, hi := max(from, v.start), min(to, end)
		for f := lo; f < hi; f++ {
			src := int(f - v.start)
			dst := int(f-from) * r.channels
			for ch := range r.channels {
				mix[dst+ch] += v.buf.Channels[ch%len(v.buf.Channels)][src]
			}
		}
		if end <= to {
			delete(r.voices, id)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	r.pos = to
	r.mu.Unlock()

	for _, cb := range ended {
		cb()
	}

	for i, s := range mix {
		mix[i] = clip(s)
	}
	return pcm.FloatToPCM16(mix)
}

// Run renders audio in real time until ctx is cancelled, the renderer is
// closed or the sink fails. Each tick renders exactly the frames owed since
// Run started, so the output clock tracks wall time without drift.
func (r *Renderer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	began := time.Now()
	var rendered int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		owed := audio.DurationToFrames(time.Since(began), r.rate) - rendered
		if owed <= 0 {
			continue
		}
		block := r.RenderFrames(int(owed))
		if block == nil {
			return nil
		}
		rendered += owed
		if err := r.sink(block); err != nil {
			return err
		}
	}
}

// Close stops every source without invoking ended callbacks. Subsequent
// Schedule calls fail with [audio.ErrOutputClosed]. Close is idempotent.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	clear(r.voices)
	return nil
}

// clip limits s to the range representable as PCM16 so that mixing several
// sources saturates instead of wrapping.
func clip(s float32) float32 {
	const maxSample = 32767.0 / pcm.Scale
	switch {
	case s > maxSample:
		return maxSample
	case s < -1:
		return -1
	default:
		return s
	}
}

// resampleBuffer converts buf to rate using linear interpolation per channel.
func resampleBuffer(buf audio.Buffer, rate int) audio.Buffer {
	src := buf.Frames()
	dst := int(int64(src) * int64(rate) / int64(buf.SampleRate))
	out := audio.Buffer{SampleRate: rate, Channels: make([][]float32, len(buf.Channels))}
	ratio := float64(buf.SampleRate) / float64(rate)
	for ch, samples := range buf.Channels {
		res := make([]float32, dst)
		for i := range dst {
			pos := float64(i) * ratio
			idx := int(pos)
			frac := float32(pos - float64(idx))
			next := min(idx+1, src-1)
			res[i] = samples[idx]*(1-frac) + samples[next]*frac
		}
		out.Channels[ch] = res
	}
	return out
}
