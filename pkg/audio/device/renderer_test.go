package device_test

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/novalive/pkg/audio"
	"github.com/MrWong99/novalive/pkg/audio/device"
)

func constBuffer(rate, frames int, v float32) audio.Buffer {
	s := make([]float32, frames)
	for i := range s {
		s[i] = v
	}
	return audio.Buffer{SampleRate: rate, Channels: [][]float32{s}}
}

func sampleAt(b []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(b[i*2:]))
}

func nopSink([]byte) error { return nil }

func TestRenderer_ClockAdvancesByRenderedFrames(t *testing.T) {
	t.Parallel()
	r := device.NewRenderer(24000, nopSink)
	if got := r.CurrentTime(); got != 0 {
		t.Fatalf("initial CurrentTime = %v, want 0", got)
	}
	out := r.RenderFrames(480)
	if len(out) != 960 {
		t.Fatalf("rendered %d bytes, want 960", len(out))
	}
	if got := r.CurrentTime(); got != 20*time.Millisecond {
		t.Errorf("CurrentTime = %v, want 20ms", got)
	}
}

func TestRenderer_PlaysAtScheduledTime(t *testing.T) {
	t.Parallel()
	r := device.NewRenderer(1000, nopSink)
	var ended atomic.Int32
	if _, err := r.Schedule(constBuffer(1000, 5, 0.5), 10*time.Millisecond, func() { ended.Add(1) }); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	out := r.RenderFrames(20)
	for i := range 20 {
		want := int16(0)
		if i >= 10 && i < 15 {
			want = 16384
		}
		if got := sampleAt(out, i); got != want {
			t.Errorf("frame %d = %d, want %d", i, got, want)
		}
	}
	if ended.Load() != 1 {
		t.Errorf("ended callbacks = %d, want 1", ended.Load())
	}
	if r.Playing() != 0 {
		t.Errorf("Playing() = %d, want 0", r.Playing())
	}
}

func TestRenderer_PastStartPlaysImmediately(t *testing.T) {
	t.Parallel()
	r := device.NewRenderer(1000, nopSink)
	r.RenderFrames(100)
	if _, err := r.Schedule(constBuffer(1000, 2, 0.25), 0, nil); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	out := r.RenderFrames(4)
	if sampleAt(out, 0) != 8192 || sampleAt(out, 1) != 8192 || sampleAt(out, 2) != 0 {
		t.Errorf("unexpected output %v", out)
	}
}

func TestRenderer_StopSuppressesEnded(t *testing.T) {
	t.Parallel()
	r := device.NewRenderer(1000, nopSink)
	var ended atomic.Int32
	src, err := r.Schedule(constBuffer(1000, 10, 0.5), 0, func() { ended.Add(1) })
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	r.RenderFrames(5)
	src.Stop()
	src.Stop()
	out := r.RenderFrames(10)
	for i := range 10 {
		if sampleAt(out, i) != 0 {
			t.Fatalf("frame %d not silent after Stop", i)
		}
	}
	if ended.Load() != 0 {
		t.Errorf("ended callback invoked for stopped source")
	}
}

func TestRenderer_MixClipsInsteadOfWrapping(t *testing.T) {
	t.Parallel()
	r := device.NewRenderer(1000, nopSink)
	for range 3 {
		if _, err := r.Schedule(constBuffer(1000, 1, 0.75), 0, nil); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	if got := sampleAt(r.RenderFrames(1), 0); got != 32767 {
		t.Errorf("mixed sample = %d, want 32767", got)
	}
}

func TestRenderer_EndedCallbackMayReenter(t *testing.T) {
	t.Parallel()
	r := device.NewRenderer(1000, nopSink)
	done := make(chan struct{})
	_, err := r.Schedule(constBuffer(1000, 1, 0), 0, func() {
		// Must not deadlock: the renderer lock is released before callbacks run.
		_ = r.CurrentTime()
		_, _ = r.Schedule(constBuffer(1000, 1, 0), r.CurrentTime(), nil)
		close(done)
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	r.RenderFrames(2)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ended callback did not run")
	}
}

func TestRenderer_ResamplesForeignRate(t *testing.T) {
	t.Parallel()
	r := device.NewRenderer(2000, nopSink)
	var ended atomic.Bool
	if _, err := r.Schedule(constBuffer(1000, 10, 0.5), 0, func() { ended.Store(true) }); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	r.RenderFrames(19)
	if ended.Load() {
		t.Fatal("buffer ended early; expected 20 frames at the output rate")
	}
	r.RenderFrames(1)
	if !ended.Load() {
		t.Fatal("buffer did not end after 20 output frames")
	}
}

func TestRenderer_StereoOutputDuplicatesMono(t *testing.T) {
	t.Parallel()
	r := device.NewRenderer(1000, nopSink, device.WithChannels(2))
	if _, err := r.Schedule(constBuffer(1000, 1, 0.5), 0, nil); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	out := r.RenderFrames(1)
	if len(out) != 4 || sampleAt(out, 0) != 16384 || sampleAt(out, 1) != 16384 {
		t.Errorf("unexpected stereo output %v", out)
	}
}

func TestRenderer_Close(t *testing.T) {
	t.Parallel()
	r := device.NewRenderer(1000, nopSink)
	var ended atomic.Int32
	if _, err := r.Schedule(constBuffer(1000, 10, 0.5), 0, func() { ended.Add(1) }); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := r.Schedule(constBuffer(1000, 1, 0), 0, nil); !errors.Is(err, audio.ErrOutputClosed) {
		t.Errorf("Schedule after Close err = %v, want ErrOutputClosed", err)
	}
	if out := r.RenderFrames(10); out != nil {
		t.Errorf("RenderFrames after Close returned %d bytes", len(out))
	}
	if ended.Load() != 0 {
		t.Error("Close must not invoke ended callbacks")
	}
}

func TestRenderer_Run(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		bytes int
	)
	sink := func(b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		bytes += len(b)
		return nil
	}
	r := device.NewRenderer(8000, sink, device.WithRenderInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v, want DeadlineExceeded", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if bytes == 0 {
		t.Fatal("sink received no audio")
	}
	if got := r.CurrentTime(); got != audio.FramesToDuration(bytes/2, 8000) {
		t.Errorf("CurrentTime = %v does not match %d rendered bytes", got, bytes)
	}
}

func TestRenderer_RunStopsOnSinkError(t *testing.T) {
	t.Parallel()
	sinkErr := errors.New("client gone")
	r := device.NewRenderer(8000, func([]byte) error { return sinkErr }, device.WithRenderInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, sinkErr) {
		t.Fatalf("Run err = %v, want sink error", err)
	}
}
