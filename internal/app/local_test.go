package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/novalive/internal/app"
	"github.com/MrWong99/novalive/internal/archive"
	"github.com/MrWong99/novalive/internal/live"
	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/pkg/audio/device"
	livemock "github.com/MrWong99/novalive/pkg/provider/live/mock"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func newLocal(t *testing.T, provider *livemock.Provider, samples []float32) (app.Local, *syncBuffer, *syncBuffer) {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	out, transcript := &syncBuffer{}, &syncBuffer{}
	return app.Local{
		Live:       testConfig().Live,
		Provider:   provider,
		Store:      &recordingStore{MemStore: archive.NewMemStore()},
		In:         bytes.NewReader(device.EncodeFloat32(samples)),
		Out:        out,
		Transcript: transcript,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:    m,
	}, out, transcript
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLocal_RunUntilCancelled(t *testing.T) {
	t.Parallel()

	provider := &livemock.Provider{OpenOnConnect: true}
	l, out, transcript := newLocal(t, provider, []float32{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	waitFor(t, "session", func() bool { return provider.LastSession() != nil })
	sess := provider.LastSession()
	waitFor(t, "two captured chunks", func() bool { return len(sess.SentBlobs()) == 2 })

	sess.Deliver(livemock.OutputText("Hello"))
	sess.Deliver(livemock.InputText("Hi"))
	waitFor(t, "first turn printed", func() bool { return transcript.String() == "Nova: Hello\n" })
	waitFor(t, "rendered output", func() bool { return out.Len() > 0 })

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if got, want := transcript.String(), "Nova: Hello\nUser: Hi\n"; got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
	if got := sess.Closes(); got != 1 {
		t.Errorf("session closes = %d, want 1", got)
	}
	ids := l.Store.(*recordingStore).sessionIDs()
	if len(ids) != 1 {
		t.Fatalf("archived sessions = %v, want one", ids)
	}
	recs, err := l.Store.Turns(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("archived turns = %d, want 2", len(recs))
	}
}

// recordingStore is an archive that remembers every appended session.
type recordingStore struct {
	*archive.MemStore

	mu  sync.Mutex
	ids []string
}

func (s *recordingStore) Append(ctx context.Context, sessionID string, turns []live.Turn) error {
	s.mu.Lock()
	s.ids = append(s.ids, sessionID)
	s.mu.Unlock()
	return s.MemStore.Append(ctx, sessionID, turns)
}

func (s *recordingStore) sessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func TestLocal_RemoteEnd(t *testing.T) {
	t.Parallel()

	provider := &livemock.Provider{OpenOnConnect: true}
	l, _, _ := newLocal(t, provider, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()

	waitFor(t, "session", func() bool { return provider.LastSession() != nil })
	provider.LastSession().CloseRemote("done")

	select {
	case err := <-errCh:
		if !errors.Is(err, live.ErrSessionTerminated) {
			t.Fatalf("Run() = %v, want ErrSessionTerminated", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after remote close")
	}
}

func TestLocal_ConnectError(t *testing.T) {
	t.Parallel()

	l, _, _ := newLocal(t, &livemock.Provider{ConnectErr: errTest}, nil)
	err := l.Run(context.Background())
	if !errors.Is(err, live.ErrConnection) || !errors.Is(err, errTest) {
		t.Fatalf("Run() = %v, want ErrConnection wrapping errTest", err)
	}
}
