package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/pkg/audio"
	"github.com/MrWong99/novalive/pkg/audio/pcm"
	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
)

// CaptureConfig sizes the capture pipeline.
type CaptureConfig struct {
	// SampleRate is the rate chunks are sent at. Default 16000.
	SampleRate int

	// FrameSamples is the number of samples per chunk. Default 4096.
	FrameSamples int

	// SendQueue bounds the chunks waiting for the sender. Default 32.
	SendQueue int
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = 4096
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 32
	}
	return c
}

// CaptureStats counts chunks by outcome.
type CaptureStats struct {
	Sent    int64
	Dropped int64
	Failed  int64
}

// Capture pumps microphone audio into a live session. A reader goroutine
// converts each captured block to mono PCM16 at the send rate, cuts it into
// fixed-size chunks and queues them without blocking; a single sender
// goroutine delivers queued chunks in order. When the queue is full the new
// chunk is dropped.
type Capture struct {
	stream  audio.InputStream
	sess    liveapi.Session
	cfg     CaptureConfig
	mime    string
	log     *slog.Logger
	metrics *observe.Metrics

	queue chan liveapi.Blob
	stop  chan struct{}
	wg    sync.WaitGroup

	stopOnce sync.Once
	closeErr error

	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// StartCapture starts pumping stream into sess. The caller must call Stop to
// release the stream; Stop also runs the release if the stream ends first.
func StartCapture(stream audio.InputStream, sess liveapi.Session, cfg CaptureConfig, log *slog.Logger, metrics *observe.Metrics) *Capture {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	c := &Capture{
		stream:  stream,
		sess:    sess,
		cfg:     cfg,
		mime:    pcm.MIMEType(cfg.SampleRate),
		log:     log,
		metrics: metrics,
		queue:   make(chan liveapi.Blob, cfg.SendQueue),
		stop:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.sendLoop()
	return c
}

func (c *Capture) readLoop() {
	defer c.wg.Done()

	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: c.cfg.SampleRate, Channels: 1},
		Logger: c.log,
	}
	chunkBytes := c.cfg.FrameSamples * 2
	pending := make([]byte, 0, chunkBytes*2)

	for {
		var frame audio.SampleFrame
		var ok bool
		select {
		case <-c.stop:
			return
		case frame, ok = <-c.stream.Frames():
			if !ok {
				return
			}
		}

		channels := max(frame.Channels, 1)
		converted := conv.Convert(audio.AudioFrame{
			Data:       pcm.FloatToPCM16(frame.Samples),
			SampleRate: frame.SampleRate,
			Channels:   channels,
			Timestamp:  frame.Timestamp,
		})
		pending = append(pending, converted.Data...)

		for len(pending) >= chunkBytes {
			c.enqueue(pending[:chunkBytes])
			pending = append(pending[:0], pending[chunkBytes:]...)
		}
	}
}

// enqueue encodes chunk and hands it to the sender without blocking.
func (c *Capture) enqueue(chunk []byte) {
	blob := liveapi.Blob{Data: pcm.EncodeTransport(chunk), MIMEType: c.mime}
	select {
	case c.queue <- blob:
	default:
		n := c.dropped.Add(1)
		c.metrics.RecordCaptureChunk(context.Background(), observe.ChunkDropped)
		if n == 1 || n%100 == 0 {
			c.log.Warn("capture send queue full, dropping chunk", "dropped_total", n)
		}
	}
}

func (c *Capture) sendLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case blob := <-c.queue:
			if err := c.sess.SendRealtimeInput(blob); err != nil {
				n := c.failed.Add(1)
				c.metrics.RecordCaptureChunk(context.Background(), observe.ChunkFailed)
				c.log.Warn("capture chunk not sent", "err", fmt.Errorf("%w: %w", ErrTransportSend, err), "failed_total", n)
				continue
			}
			c.sent.Add(1)
			c.metrics.RecordCaptureChunk(context.Background(), observe.ChunkSent)
		}
	}
}

// Stop halts both goroutines and releases the microphone stream. Queued
// chunks that were not sent yet are discarded. Stop is idempotent and returns
// the stream's Close error from the first call.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.closeErr = c.stream.Close()
		c.wg.Wait()
		st := c.Stats()
		c.log.Debug("capture stopped", "sent", st.Sent, "dropped", st.Dropped, "failed", st.Failed)
	})
	return c.closeErr
}

// Stats returns the chunk counters.
func (c *Capture) Stats() CaptureStats {
	return CaptureStats{
		Sent:    c.sent.Load(),
		Dropped: c.dropped.Load(),
		Failed:  c.failed.Load(),
	}
}
