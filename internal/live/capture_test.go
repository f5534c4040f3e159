package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/novalive/pkg/audio/mock"
	"github.com/MrWong99/novalive/pkg/audio/pcm"
	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
	livemock "github.com/MrWong99/novalive/pkg/provider/live/mock"
)

var errTest = errors.New("test error")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func openStream(t *testing.T, mic *mock.Microphone) *mock.InputStream {
	t.Helper()
	if _, err := mic.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return mic.Stream()
}

func TestCapture_ChunksAndEncodes(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	stream := openStream(t, mic)
	sess := &livemock.Session{}

	c := StartCapture(stream, sess, CaptureConfig{FrameSamples: 4}, nil, nil)
	defer c.Stop()

	// Ten samples make two full chunks of four; two samples stay pending.
	stream.Push([]float32{0, 0.5, -0.5, 0.25, 0, 0, 0, 0, 0.5, 0.5})

	waitFor(t, "two chunks", func() bool { return len(sess.SentBlobs()) == 2 })

	blobs := sess.SentBlobs()
	for _, b := range blobs {
		if b.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("MIMEType = %q", b.MIMEType)
		}
	}
	raw, err := pcm.DecodeTransport(blobs[0].Data)
	if err != nil {
		t.Fatalf("DecodeTransport: %v", err)
	}
	want := pcm.FloatToPCM16([]float32{0, 0.5, -0.5, 0.25})
	if string(raw) != string(want) {
		t.Errorf("first chunk = %x, want %x", raw, want)
	}
	if st := c.Stats(); st.Sent != 2 || st.Dropped != 0 || st.Failed != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCapture_ResamplesToSendRate(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{SampleRate: 48000, Channels: 2}
	stream := openStream(t, mic)
	sess := &livemock.Session{}

	c := StartCapture(stream, sess, CaptureConfig{FrameSamples: 160}, nil, nil)
	defer c.Stop()

	// 10ms of 48 kHz stereo is 160 mono samples at 16 kHz.
	stream.Push(make([]float32, 480*2))
	waitFor(t, "one chunk", func() bool { return len(sess.SentBlobs()) == 1 })

	raw, _ := pcm.DecodeTransport(sess.SentBlobs()[0].Data)
	if len(raw) != 320 {
		t.Errorf("chunk bytes = %d, want 320", len(raw))
	}
}

func TestCapture_SendFailuresAreSwallowed(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	stream := openStream(t, mic)
	sess := &livemock.Session{SendErr: errTest}

	c := StartCapture(stream, sess, CaptureConfig{FrameSamples: 1}, nil, nil)
	defer c.Stop()

	stream.Push([]float32{0.1, 0.2})
	waitFor(t, "two failures", func() bool { return c.Stats().Failed == 2 })

	sess.SetSendErr(nil)
	stream.Push([]float32{0.3})
	waitFor(t, "capture to continue", func() bool { return c.Stats().Sent == 1 })
}

// blockingSession blocks every send until release is closed. entered is
// signalled when a send starts waiting.
type blockingSession struct {
	livemock.Session
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSession) SendRealtimeInput(blob liveapi.Blob) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Session.SendRealtimeInput(blob)
}

func TestCapture_FullQueueDropsNewest(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	stream := openStream(t, mic)
	sess := &blockingSession{entered: make(chan struct{}, 1), release: make(chan struct{})}

	c := StartCapture(stream, sess, CaptureConfig{FrameSamples: 1, SendQueue: 2}, nil, nil)

	samples := make([]float32, 10)
	for i := range samples {
		samples[i] = float32(i) / 100
	}
	// The first chunk is held by the blocked sender.
	stream.Push(samples[:1])
	select {
	case <-sess.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("sender never picked up the first chunk")
	}
	// Two more fit in the queue and the remaining seven are dropped.
	stream.Push(samples[1:])
	waitFor(t, "drops", func() bool { return c.Stats().Dropped == 7 })

	close(sess.release)
	waitFor(t, "queued chunks sent", func() bool { return c.Stats().Sent == 3 })

	// The first three captured chunks are the ones delivered, in order.
	blobs := sess.SentBlobs()
	for i, b := range blobs {
		raw, _ := pcm.DecodeTransport(b.Data)
		want := pcm.FloatToPCM16(samples[i : i+1])
		if string(raw) != string(want) {
			t.Errorf("chunk %d = %x, want %x", i, raw, want)
		}
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestCapture_StopReleasesStreamAndIsIdempotent(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	stream := openStream(t, mic)
	sess := &livemock.Session{}

	c := StartCapture(stream, sess, CaptureConfig{}, nil, nil)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if !stream.Closed() {
		t.Error("stream not released")
	}
	if stream.CloseCalls() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.CloseCalls())
	}
	if stream.Push([]float32{0}) {
		t.Error("push after stop should fail")
	}
}
