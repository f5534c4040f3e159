package resilience

import (
	"context"
	"errors"
	"slices"

	"github.com/MrWong99/novalive/pkg/provider/speech"
)

var _ speech.Synthesizer = (*SpeechFallback)(nil)

// SpeechFallback implements speech.Synthesizer with failover across several
// backends. Request errors (empty text, unknown voice) are returned from the
// first backend without failing over or counting against its breaker.
type SpeechFallback struct {
	group *FallbackGroup[speech.Synthesizer]
}

// NewSpeechFallback creates a SpeechFallback with primary as the preferred
// backend. cfg.CircuitBreaker.IsFailure is replaced.
func NewSpeechFallback(primary speech.Synthesizer, primaryName string, cfg FallbackConfig) *SpeechFallback {
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return !errors.Is(err, speech.ErrEmptyText) && !errors.Is(err, speech.ErrUnknownVoice) &&
			!errors.Is(err, context.Canceled)
	}
	return &SpeechFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *SpeechFallback) AddFallback(name string, s speech.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize implements speech.Synthesizer.
func (f *SpeechFallback) Synthesize(ctx context.Context, req speech.Request) (speech.Result, error) {
	return ExecuteWithResult(f.group, func(s speech.Synthesizer) (speech.Result, error) {
		return s.Synthesize(ctx, req)
	})
}

// Voices returns the union of all backends' voices in registration order.
func (f *SpeechFallback) Voices() []string {
	var out []string
	for _, e := range f.group.entries {
		for _, v := range e.value.Voices() {
			if !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
	}
	return out
}
