package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
	livemock "github.com/MrWong99/novalive/pkg/provider/live/mock"
)

func TestConnectGuard_PassesThrough(t *testing.T) {
	t.Parallel()
	inner := &livemock.Provider{}
	g := NewConnectGuard(inner, CircuitBreakerConfig{})

	sess, err := g.Connect(context.Background(), liveapi.Config{Model: "m"}, liveapi.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess != inner.LastSession() {
		t.Error("guard returned a different session")
	}
	if got := inner.ConnectCalls[0].Cfg.Model; got != "m" {
		t.Errorf("config model = %q", got)
	}
}

func TestConnectGuard_OpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	inner := &livemock.Provider{ConnectErr: errTest}
	g := NewConnectGuard(inner, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, Now: clock.Now})
	ctx := context.Background()

	for i := range 2 {
		if _, err := g.Connect(ctx, liveapi.Config{}, liveapi.Callbacks{}); !errors.Is(err, errTest) {
			t.Fatalf("connect %d err = %v, want inner error", i, err)
		}
	}
	_, err := g.Connect(ctx, liveapi.Config{}, liveapi.Callbacks{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := inner.ConnectCount(); n != 2 {
		t.Errorf("inner Connect called %d times, want 2", n)
	}

	// After the timeout exactly one trial reaches the service.
	clock.Advance(time.Minute)
	inner.ConnectErr = nil
	if _, err := g.Connect(ctx, liveapi.Config{}, liveapi.Callbacks{}); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if g.State() != StateClosed {
		t.Errorf("state = %v, want closed", g.State())
	}
}

func TestConnectGuard_CancelledContextIsNotAFailure(t *testing.T) {
	t.Parallel()
	inner := &livemock.Provider{ConnectErr: context.Canceled}
	g := NewConnectGuard(inner, CircuitBreakerConfig{MaxFailures: 1})
	for range 3 {
		_, err := g.Connect(context.Background(), liveapi.Config{}, liveapi.Callbacks{})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if g.State() != StateClosed {
		t.Errorf("state = %v, want closed", g.State())
	}
	if n := inner.ConnectCount(); n != 3 {
		t.Errorf("inner Connect called %d times, want 3", n)
	}
}

func TestConnectGuard_Reset(t *testing.T) {
	t.Parallel()
	inner := &livemock.Provider{ConnectErr: errTest}
	g := NewConnectGuard(inner, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_, _ = g.Connect(context.Background(), liveapi.Config{}, liveapi.Callbacks{})
	if g.State() != StateOpen {
		t.Fatalf("state = %v, want open", g.State())
	}
	g.Reset()
	if g.State() != StateClosed {
		t.Fatalf("state = %v, want closed", g.State())
	}
}
