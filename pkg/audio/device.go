// Package audio defines the audio types and device abstractions used by the
// live conversation pipeline.
//
// The two device-side abstractions mirror what a host audio subsystem offers:
//
//   - [Microphone] grants access to a capture stream ([InputStream]).
//   - [Output] is a clocked playback device on which one-shot [Source] players
//     are scheduled at absolute times on the output clock.
//
// Concrete devices live in audio/device; test doubles in audio/mock.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [Microphone.Open] when access to the
// capture device is refused or no device is available.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrOutputClosed is returned by [Output.Schedule] after the output was closed.
var ErrOutputClosed = errors.New("audio: output closed")

// Microphone is the entry point for audio capture.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Open requests access to the capture device and returns a running
	// stream. It returns an error wrapping [ErrPermissionDenied] if access is
	// refused. The caller owns the stream and must Close it.
	Open(ctx context.Context) (InputStream, error)
}

// InputStream is an acquired capture stream.
type InputStream interface {
	// Frames returns the channel delivering captured sample blocks. The
	// channel is closed when the stream ends or is closed.
	Frames() <-chan SampleFrame

	// Close releases the capture device. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Source is a scheduled one-shot player bound to a start time.
type Source interface {
	// Stop silences the source immediately. The ended callback passed to
	// [Output.Schedule] is not invoked for a stopped source. Stopping a source
	// that already finished is a no-op.
	Stop()
}

// Output is a clocked playback device.
//
// Implementations must be safe for concurrent use. The ended callback passed
// to Schedule must be invoked without any Output-internal lock held so that it
// may call back into the Output.
type Output interface {
	// CurrentTime reports the output clock: how much audio the device has
	// played since it was created. It never decreases.
	CurrentTime() time.Duration

	// Schedule arranges for buf to start playing at the absolute output time
	// at. A start time in the past plays immediately. onEnded, if non-nil, is
	// called once when the buffer finished playing naturally.
	Schedule(buf Buffer, at time.Duration, onEnded func()) (Source, error)
}
