// Package codec converts raw floating-point audio samples to and from the
// PCM16 wire format used by the live voice stream.
//
// Encoding clamps each sample to [-1, 1], scales it to the signed 16-bit
// range and writes it little-endian. Decoding is the exact inverse and
// produces a playable [Buffer]. Both directions are pure functions with no
// retained state; transport-level base64 encoding is applied at the stream
// boundary, not here.
package codec

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedAudio is returned by [DecodePCM16] when the input cannot be
// interpreted as little-endian int16 PCM (e.g. odd byte count).
var ErrMalformedAudio = errors.New("codec: malformed PCM16 audio")

// Buffer is a decoded block of playable audio. Samples are normalised
// float32 values in [-1, 1], interleaved when Channels > 1.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback duration of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// EncodePCM16 converts normalised float32 samples to little-endian int16 PCM.
// Each sample is clamped to [-1, 1] before scaling. The output length is
// always exactly 2×len(samples).
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		// Scale by 32768 and clamp the positive edge so the quantisation
		// error never exceeds one step of the int16 grid.
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian int16 PCM bytes into a playable [Buffer]
// with the given sample rate and channel count. The byte count must be even;
// otherwise an error wrapping [ErrMalformedAudio] is returned.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedAudio, len(data))
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: invalid format %dHz/%dch", ErrMalformedAudio, sampleRate, channels)
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(v) / 32768
	}
	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// ResampleMono resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. If the rates match (or either is invalid), the input
// is returned unchanged. Used by the capture pipeline when the input device
// cannot deliver the stream's native rate.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
