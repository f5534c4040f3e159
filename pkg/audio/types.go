package audio

import "time"

// AudioFrame is a chunk of 16-bit little-endian PCM flowing between the
// capture side and the remote service. Frames are ephemeral: they are created
// per capture tick or per received message and consumed immediately.
type AudioFrame struct {
	// PCM audio data, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel held by f.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// SampleFrame is a block of floating-point samples in [-1, 1] as delivered by
// a microphone. Samples are interleaved when Channels > 1.
type SampleFrame struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Timestamp  time.Duration
}

// Buffer is a decoded, playable block of audio with one slice per channel.
// All channel slices have the same length.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of b at its sample rate.
func (b Buffer) Duration() time.Duration {
	return FramesToDuration(b.Frames(), b.SampleRate)
}

// FramesToDuration converts a sample-frame count at rate into a duration.
// Returns 0 for a non-positive rate.
func FramesToDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// DurationToFrames converts d into a sample-frame count at rate, rounding down.
func DurationToFrames(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int64(d) * int64(rate) / int64(time.Second)
}
