// Package speech defines the Synthesizer interface for one-shot
// text-to-speech.
//
// Unlike a live session, a synthesis request is a single round trip: the
// caller hands over a complete text and receives the complete utterance as
// PCM16 little-endian audio.
//
// Implementations must be safe for concurrent use.
package speech

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Prompt is prepended to the text of every request so that the model reads
// the text aloud instead of answering it.
const Prompt = "Say this naturally: "

var (
	// ErrEmptyText is returned when a request carries no text.
	ErrEmptyText = errors.New("speech: empty text")

	// ErrUnknownVoice is returned when a request names a voice that the
	// synthesizer does not offer.
	ErrUnknownVoice = errors.New("speech: unknown voice")

	// ErrNoAudio is returned when the backend answered without audio.
	ErrNoAudio = errors.New("speech: response contained no audio")
)

// Request is a single synthesis request.
type Request struct {
	// Text is the text to speak. Must not be blank.
	Text string

	// Voice is a prebuilt voice name. Empty selects the synthesizer default.
	Voice string
}

// Result is a synthesized utterance.
type Result struct {
	// PCM is mono PCM16 little-endian audio.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int
}

// Duration returns the playback length of the utterance.
func (r Result) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(r.PCM)/2) * time.Second / time.Duration(r.SampleRate)
}

// Synthesizer turns text into speech.
type Synthesizer interface {
	// Synthesize speaks req.Text with req.Voice. It returns [ErrEmptyText],
	// [ErrUnknownVoice] or [ErrNoAudio] for the respective failures, or a
	// wrapped transport error.
	Synthesize(ctx context.Context, req Request) (Result, error)

	// Voices lists the voice names accepted in [Request.Voice].
	Voices() []string
}

// ResolveVoice returns the voice to use for requested, falling back to def
// when requested is empty. An empty voices list accepts any name.
func ResolveVoice(requested, def string, voices []string) (string, error) {
	v := requested
	if v == "" {
		v = def
	}
	if v != "" && len(voices) > 0 && !slices.Contains(voices, v) {
		return "", ErrUnknownVoice
	}
	return v, nil
}
