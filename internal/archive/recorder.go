package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/novalive/internal/live"
	"github.com/MrWong99/novalive/internal/observe"
)

const (
	// writeTimeout bounds the archive write of one finished conversation.
	writeTimeout = 10 * time.Second

	defaultQueueSize = 64
)

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithQueueSize sets how many finished conversations may wait for the
// writer. Defaults to 64.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithRecorderLogger sets the logger. Defaults to [slog.Default].
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// Recorder appends finished conversations to a [Store] on its own goroutine,
// so that the caller of [Recorder.Record] never waits for the store.
type Recorder struct {
	store     Store
	metrics   *observe.Metrics
	log       *slog.Logger
	queueSize int

	mu     sync.RWMutex
	closed bool
	queue  chan live.Summary
	done   chan struct{}
}

// NewRecorder starts a recorder writing to s. Call [Recorder.Close] to flush
// pending writes before closing s.
func NewRecorder(s Store, m *observe.Metrics, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:     s,
		metrics:   m,
		log:       slog.Default(),
		queueSize: defaultQueueSize,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	r.queue = make(chan live.Summary, r.queueSize)
	r.done = make(chan struct{})
	go r.run()
	return r
}

// Record queues sum for archiving and returns immediately. Conversations
// without turns are skipped. When the queue is full or the recorder is
// closed the conversation is dropped and counted. Record has the signature
// of a [live.WithEndHandler] callback.
func (r *Recorder) Record(sum live.Summary) {
	if len(sum.Turns) == 0 {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(sum, "recorder closed")
		return
	}
	select {
	case r.queue <- sum:
	default:
		r.drop(sum, "queue full")
	}
}

func (r *Recorder) drop(sum live.Summary, reason string) {
	r.metrics.RecordArchiveWrite(context.Background(), "dropped")
	r.log.Warn("transcript not archived", "session_id", sum.SessionID, "reason", reason)
}

// Close stops accepting conversations and waits until the queued ones are
// written or ctx is done. It is safe to call more than once.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for sum := range r.queue {
		r.write(sum)
	}
}

func (r *Recorder) write(sum live.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	log := r.log.With("session_id", sum.SessionID)
	if err := r.store.Append(ctx, sum.SessionID, sum.Turns); err != nil {
		r.metrics.RecordArchiveWrite(ctx, "error")
		log.Error("archiving transcript failed", "err", err)
		return
	}
	r.metrics.RecordArchiveWrite(ctx, "ok")
	log.Info("transcript archived",
		"turns", len(sum.Turns),
		"duration", sum.Ended.Sub(sum.Started).Round(time.Millisecond),
		"terminated", sum.Err != nil,
	)
}
