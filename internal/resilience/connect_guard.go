package resilience

import (
	"context"
	"errors"
	"fmt"

	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
)

var _ liveapi.Provider = (*ConnectGuard)(nil)

// ConnectGuard wraps a live provider with a circuit breaker around Connect.
// Once the remote service refused MaxFailures connects in a row, Connect
// fails immediately with an error wrapping [ErrCircuitOpen] until the reset
// timeout elapses. Established sessions are not affected.
//
// A context cancelled by the caller does not count as a service failure.
type ConnectGuard struct {
	inner   liveapi.Provider
	breaker *CircuitBreaker
}

// NewConnectGuard wraps inner. cfg.IsFailure is replaced.
func NewConnectGuard(inner liveapi.Provider, cfg CircuitBreakerConfig) *ConnectGuard {
	if cfg.Name == "" {
		cfg.Name = "live-connect"
	}
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	return &ConnectGuard{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Connect implements liveapi.Provider.
func (g *ConnectGuard) Connect(ctx context.Context, cfg liveapi.Config, cb liveapi.Callbacks) (liveapi.Session, error) {
	var sess liveapi.Session
	err := g.breaker.Execute(func() error {
		var err error
		sess, err = g.inner.Connect(ctx, cfg, cb)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("live connect: %w", err)
	}
	return sess, err
}

// State reports the breaker state.
func (g *ConnectGuard) State() State { return g.breaker.State() }

// Reset closes the breaker.
func (g *ConnectGuard) Reset() { g.breaker.Reset() }
