// Package mock provides a test double for the speech.Synthesizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/novalive/pkg/provider/speech"
)

var _ speech.Synthesizer = (*Synthesizer)(nil)

// Synthesizer is a mock implementation of speech.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Result is returned by Synthesize when Err is nil.
	Result speech.Result

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// VoiceList is returned by Voices. Requests naming a voice outside a
	// non-empty VoiceList fail with speech.ErrUnknownVoice.
	VoiceList []string

	// Requests records every Synthesize call in order.
	Requests []speech.Request
}

// Synthesize records req and returns Result or Err.
func (s *Synthesizer) Synthesize(_ context.Context, req speech.Request) (speech.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	if req.Text == "" {
		return speech.Result{}, speech.ErrEmptyText
	}
	if _, err := speech.ResolveVoice(req.Voice, "", s.VoiceList); err != nil {
		return speech.Result{}, err
	}
	if s.Err != nil {
		return speech.Result{}, s.Err
	}
	return s.Result, nil
}

// Voices returns VoiceList.
func (s *Synthesizer) Voices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.VoiceList...)
}

// Calls returns the number of Synthesize calls.
func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
