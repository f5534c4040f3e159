package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/novalive/internal/live"
	"github.com/MrWong99/novalive/internal/observe"
)

func newTestRecorder(t *testing.T, s Store, opts ...RecorderOption) *Recorder {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts = append([]RecorderOption{WithRecorderLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	r := NewRecorder(s, m, opts...)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

// gatedStore blocks every Append until release is closed.
type gatedStore struct {
	*MemStore
	entered chan string
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{MemStore: NewMemStore(), entered: make(chan string, 16), release: make(chan struct{})}
}

func (s *gatedStore) Append(ctx context.Context, sessionID string, turns []live.Turn) error {
	s.entered <- sessionID
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.MemStore.Append(ctx, sessionID, turns)
}

func summary(id string, texts ...string) live.Summary {
	started := time.Now()
	sum := live.Summary{SessionID: id, Started: started, Ended: started.Add(time.Second)}
	for _, text := range texts {
		sum.Turns = append(sum.Turns, live.Turn{Role: "User", Text: text})
	}
	return sum
}

func TestRecorder_ArchivesOnClose(t *testing.T) {
	t.Parallel()
	s := NewMemStore()
	r := newTestRecorder(t, s)

	r.Record(summary("empty"))
	r.Record(summary("s1", "Hi", "there"))
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.Turns(context.Background(), "empty"); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty conversation archived: err = %v", err)
	}
	recs, err := s.Turns(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(recs) != 2 || recs[0].Text != "Hi" || recs[1].Text != "there" {
		t.Errorf("records = %+v", recs)
	}

	// Conversations ending after Close are dropped, not panicked on.
	r.Record(summary("late", "lost"))
	if _, err := s.Turns(context.Background(), "late"); !errors.Is(err, ErrNotFound) {
		t.Errorf("late conversation archived: err = %v", err)
	}
}

func TestRecorder_RecordDoesNotWaitForStore(t *testing.T) {
	t.Parallel()
	s := newGatedStore()
	r := newTestRecorder(t, s)

	done := make(chan struct{})
	go func() {
		r.Record(summary("slow", "Hi"))
		r.Record(summary("queued", "Hello"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a slow store")
	}

	if got := <-s.entered; got != "slow" {
		t.Fatalf("first write = %q, want slow", got)
	}
	close(s.release)
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, id := range []string{"slow", "queued"} {
		if _, err := s.Turns(context.Background(), id); err != nil {
			t.Errorf("Turns(%q): %v", id, err)
		}
	}
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	s := newGatedStore()
	r := newTestRecorder(t, s, WithQueueSize(1))

	r.Record(summary("writing", "a"))
	<-s.entered // the writer holds "writing"; the queue is empty again
	r.Record(summary("queued", "b"))
	r.Record(summary("dropped", "c"))

	close(s.release)
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Turns(context.Background(), "queued"); err != nil {
		t.Errorf("queued conversation: %v", err)
	}
	if _, err := s.Turns(context.Background(), "dropped"); !errors.Is(err, ErrNotFound) {
		t.Errorf("overflowing conversation archived: err = %v", err)
	}
}

func TestRecorder_CloseHonoursDeadline(t *testing.T) {
	t.Parallel()
	s := newGatedStore()
	r := newTestRecorder(t, s)
	t.Cleanup(func() { close(s.release) })

	r.Record(summary("stuck", "a"))
	<-s.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() = %v, want DeadlineExceeded", err)
	}
}

func TestRecorder_StoreFailureIsLogged(t *testing.T) {
	t.Parallel()
	s := NewMemStore()
	s.Close()
	r := newTestRecorder(t, s)
	r.Record(summary("s1", "lost"))
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
