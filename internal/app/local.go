package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/novalive/internal/archive"
	"github.com/MrWong99/novalive/internal/config"
	"github.com/MrWong99/novalive/internal/live"
	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/pkg/audio/device"
	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
)

// archiveFlushTimeout bounds the wait for the final archive write.
const archiveFlushTimeout = 15 * time.Second

// Local runs a single conversation against local streams instead of a
// browser: raw little-endian float32 mono samples at the capture rate are
// read from In, rendered PCM16 output at the playback rate is written to Out
// and completed transcript turns are printed to Transcript.
type Local struct {
	Live     config.LiveConfig
	Provider liveapi.Provider

	// Store archives the conversation when set.
	Store archive.Store

	In         io.Reader
	Out        io.Writer
	Transcript io.Writer

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Run starts the conversation and blocks until ctx is cancelled or the
// remote service ends it. Cancelling ctx is a clean stop and returns nil; a
// remote end returns an error wrapping [live.ErrSessionTerminated].
func (l Local) Run(ctx context.Context) error {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := l.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	mic := device.NewReaderMicrophone(l.In, l.Live.Capture.SampleRate, l.Live.Capture.FrameSamples)
	renderer := device.NewRenderer(l.Live.Playback.SampleRate,
		func(b []byte) error {
			_, err := l.Out.Write(b)
			return err
		},
		device.WithChannels(l.Live.Playback.Channels),
		device.WithRenderInterval(l.Live.Playback.RenderInterval),
	)

	printer := &turnPrinter{w: l.Transcript}
	ended := make(chan live.Summary, 1)
	onArchive := func(live.Summary) {}
	if l.Store != nil {
		rec := archive.NewRecorder(l.Store, metrics, archive.WithRecorderLogger(log))
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), archiveFlushTimeout)
			defer cancel()
			if err := rec.Close(flushCtx); err != nil {
				log.Warn("transcript archive not flushed", "err", err)
			}
		}()
		onArchive = rec.Record
	}
	ctrl := live.NewController(l.Provider, mic, renderer, l.Live.ControllerConfig(),
		live.WithLogger(log),
		live.WithMetrics(metrics),
		live.WithTranscriptHandler(printer.update),
		live.WithEndHandler(func(sum live.Summary) {
			printer.flush(sum.Turns)
			onArchive(sum)
			ended <- sum
		}),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := renderer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: render output: %w", err)
		}
		return nil
	})

	if err := ctrl.Start(gctx); err != nil {
		cancel()
		_ = g.Wait()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info("local conversation started", "session_id", ctrl.SessionID())

	var sum live.Summary
	select {
	case <-gctx.Done():
		_ = ctrl.Stop()
		sum = <-ended
	case sum = <-ended:
	}
	cancel()
	_ = renderer.Close()
	if err := g.Wait(); err != nil {
		return err
	}
	return sum.Err
}

// turnPrinter writes each transcript turn once it is complete, that is once
// a later turn started or the conversation ended.
type turnPrinter struct {
	w io.Writer

	mu      sync.Mutex
	printed int
}

func (p *turnPrinter) update(turns []live.Turn) {
	p.print(turns, len(turns)-1)
}

func (p *turnPrinter) flush(turns []live.Turn) {
	p.print(turns, len(turns))
}

func (p *turnPrinter) print(turns []live.Turn, upto int) {
	if p.w == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for ; p.printed < upto; p.printed++ {
		t := turns[p.printed]
		fmt.Fprintf(p.w, "%s: %s\n", t.Role, t.Text)
	}
}
