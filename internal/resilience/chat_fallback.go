package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/novalive/pkg/provider/chat"
)

var _ chat.Chatter = (*ChatFallback)(nil)

// ChatFallback implements chat.Chatter with failover across several
// backends. Rejected requests (empty text, malformed history) are returned
// from the first backend without failing over or counting against its
// breaker. An empty answer counts as a failure.
type ChatFallback struct {
	group *FallbackGroup[chat.Chatter]
}

// NewChatFallback creates a ChatFallback with primary as the preferred
// backend. cfg.CircuitBreaker.IsFailure is replaced.
func NewChatFallback(primary chat.Chatter, primaryName string, cfg FallbackConfig) *ChatFallback {
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return !errors.Is(err, chat.ErrEmptyText) && !errors.Is(err, chat.ErrInvalidHistory) &&
			!errors.Is(err, context.Canceled)
	}
	return &ChatFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *ChatFallback) AddFallback(name string, c chat.Chatter) {
	f.group.AddFallback(name, c)
}

// Names returns the backend names in failover order.
func (f *ChatFallback) Names() []string { return f.group.Names() }

// Reply implements chat.Chatter.
func (f *ChatFallback) Reply(ctx context.Context, req chat.Request) (chat.Response, error) {
	return ExecuteWithResult(f.group, func(c chat.Chatter) (chat.Response, error) {
		return c.Reply(ctx, req)
	})
}
