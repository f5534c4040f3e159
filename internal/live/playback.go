package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/pkg/audio"
	"github.com/MrWong99/novalive/pkg/audio/pcm"
)

// Scheduler turns received audio chunks into gap-free playback on an
// [audio.Output]. Each chunk starts at max(cursor, output clock) and moves the
// cursor to its end, so chunks play back-to-back in arrival order and catch up
// with the output clock after an underrun.
//
// The set of scheduled sources is owned by the Scheduler and guarded by its
// mutex; natural completion and interruption both go through it.
type Scheduler struct {
	out      audio.Output
	rate     int
	channels int
	log      *slog.Logger
	metrics  *observe.Metrics

	mu     sync.Mutex
	cursor time.Duration
	seq    uint64
	active map[uint64]audio.Source
}

// NewScheduler returns a scheduler that decodes chunks as PCM16 at rate with
// the given channel count.
func NewScheduler(out audio.Output, rate, channels int, log *slog.Logger, metrics *observe.Metrics) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Scheduler{
		out:      out,
		rate:     rate,
		channels: channels,
		log:      log,
		metrics:  metrics,
		active:   make(map[uint64]audio.Source),
	}
}

// Enqueue decodes one base64 PCM16 chunk and schedules it. It returns the
// chunk's start time on the output clock.
func (s *Scheduler) Enqueue(data string) (time.Duration, error) {
	buf, err := pcm.NewBuffer(data, s.rate, s.channels)
	if err != nil {
		return 0, fmt.Errorf("live: decode playback chunk: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	startAt := max(s.cursor, s.out.CurrentTime())
	s.seq++
	id := s.seq
	src, err := s.out.Schedule(buf, startAt, func() { s.ended(id) })
	if err != nil {
		return 0, fmt.Errorf("live: schedule playback chunk: %w", err)
	}
	s.active[id] = src
	s.cursor = startAt + buf.Duration()
	s.metrics.PlaybackChunks.Add(context.Background(), 1)
	return startAt, nil
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Interrupt stops every scheduled source, clears the active set and resets the
// cursor so the next chunk starts at the output clock.
func (s *Scheduler) Interrupt() {
	n := s.StopAll()
	s.metrics.Interruptions.Add(context.Background(), 1)
	s.log.Debug("playback interrupted", "stopped_sources", n)
}

// StopAll stops and forgets every scheduled source and resets the cursor. It
// returns the number of sources stopped.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.active)
	for id, src := range s.active {
		src.Stop()
		delete(s.active, id)
	}
	s.cursor = 0
	return n
}

// Active returns the number of sources scheduled but not yet finished.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the current timeline cursor.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
