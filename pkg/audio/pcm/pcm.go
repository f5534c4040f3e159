// Package pcm converts between floating-point samples, 16-bit little-endian
// PCM bytes and the base64 text form used on the wire to the live service.
//
// The float to integer mapping scales by 32768 and truncates toward zero
// without clamping: a sample of exactly 1.0 becomes 32768 which wraps to
// -32768, and larger magnitudes wrap modulo 2^16. Callers that need clipping
// must clamp before encoding.
package pcm

import (
	"encoding/base64"
	"fmt"
	"math"

	"github.com/MrWong99/novalive/pkg/audio"
)

// Scale is the factor between float samples in [-1, 1] and PCM16 integers.
const Scale = 32768.0

// CaptureMIMEType is the MIME descriptor attached to 16 kHz capture chunks.
const CaptureMIMEType = "audio/pcm;rate=16000"

// MIMEType returns the PCM MIME descriptor for the given sample rate.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// FloatToPCM16 encodes samples as 16-bit signed little-endian integers.
// Interleaved multi-channel input is encoded in the same order.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := toInt16(float64(s) * Scale)
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// toInt16 truncates v toward zero and wraps it into the int16 range.
// NaN and infinities map to zero.
func toInt16(v float64) int16 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	v = math.Trunc(v)
	if v >= -(1<<31) && v < 1<<31 {
		return int16(int32(v))
	}
	m := math.Mod(v, 1<<16)
	if m < 0 {
		m += 1 << 16
	}
	return int16(uint16(m))
}

// PCM16ToFloat decodes interleaved 16-bit little-endian PCM into one float
// slice per channel, dividing each sample by 32768. A trailing partial frame
// is ignored. channels below 1 is treated as mono.
func PCM16ToFloat(data []byte, channels int) [][]float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / (2 * channels)
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			s := int16(uint16(data[off]) | uint16(data[off+1])<<8)
			out[ch][i] = float32(s) / Scale
		}
	}
	return out
}

// Interleave flattens per-channel samples into a single interleaved slice.
// Channels shorter than the first are padded with zeros.
func Interleave(channels [][]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	out := make([]float32, frames*len(channels))
	for ch, samples := range channels {
		for i := 0; i < frames && i < len(samples); i++ {
			out[i*len(channels)+ch] = samples[i]
		}
	}
	return out
}

// EncodeTransport returns the standard base64 encoding of data.
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport reverses [EncodeTransport].
func DecodeTransport(text string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("pcm: decode transport text: %w", err)
	}
	return b, nil
}

// NewBuffer decodes transport text carrying PCM16 into a playable buffer.
func NewBuffer(text string, sampleRate, channels int) (audio.Buffer, error) {
	if sampleRate <= 0 {
		return audio.Buffer{}, fmt.Errorf("pcm: sample rate must be positive, got %d", sampleRate)
	}
	data, err := DecodeTransport(text)
	if err != nil {
		return audio.Buffer{}, err
	}
	if channels < 1 {
		channels = 1
	}
	return audio.Buffer{SampleRate: sampleRate, Channels: PCM16ToFloat(data, channels)}, nil
}
