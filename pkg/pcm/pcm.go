// Package pcm defines the fixed wire format for audio flowing through the
// bridge (signed 16-bit little-endian PCM, 48 kHz, 2 channels, 20 ms frames)
// and the sample-level helpers the paths are built from: silence generation,
// zero-padding, saturating mixes, and the mono/16 kHz reductions used by
// transcription sinks.
//
// This package lives under pkg/ because external sinks are expected to
// consume frames in this format.
package pcm

import (
	"math"
	"time"
)

// Bridge wire format. Both pipe directions and the transport callbacks carry
// frames of exactly FrameBytes; producers and consumers that violate this
// framing get zero-padded, never errors.
const (
	// SampleRate in Hz.
	SampleRate = 48000

	// Channels of interleaved audio (stereo).
	Channels = 2

	// BytesPerSample for s16le.
	BytesPerSample = 2

	// FrameDuration is the tick quantum of the bridge.
	FrameDuration = 20 * time.Millisecond

	// SamplesPerFrame is the per-channel sample count of one frame (960).
	SamplesPerFrame = SampleRate / 1000 * 20

	// FrameBytes is the size of one frame: 960 × 2 channels × 2 bytes = 3840.
	FrameBytes = SamplesPerFrame * Channels * BytesPerSample
)

// Silence returns a freshly allocated zero-filled frame.
func Silence() []byte {
	return make([]byte, FrameBytes)
}

// PadToFrame zero-pads b to exactly FrameBytes. A full frame is returned
// unchanged; anything longer is truncated. The remainder of a short read is
// never carried over to the next tick.
func PadToFrame(b []byte) []byte {
	if len(b) == FrameBytes {
		return b
	}
	out := make([]byte, FrameBytes)
	copy(out, b)
	return out
}

// SumSaturate mixes src into dst sample-wise with saturation to the int16
// range, so simultaneous speakers add without overflow wraparound. Both
// slices must be s16le; mixing stops at the shorter of the two.
func SumSaturate(dst, src []byte) {
	n := min(len(dst), len(src))
	for i := 0; i+1 < n; i += 2 {
		a := int32(int16(dst[i]) | int16(dst[i+1])<<8)
		b := int32(int16(src[i]) | int16(src[i+1])<<8)
		s := a + b
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		dst[i] = byte(s)
		dst[i+1] = byte(s >> 8)
	}
}

// Sine generates count frames of a sine tone at freq Hz, written identically
// to both channels. Useful as a test signal for the speaker pipe; 440 Hz at
// amplitude 16000 is a comfortable beep.
func Sine(freq float64, amplitude int16, count int) []byte {
	samples := make([]int16, count*SamplesPerFrame*Channels)
	for i := 0; i < count*SamplesPerFrame; i++ {
		t := float64(i) / SampleRate
		v := int16(float64(amplitude) * math.Sin(2*math.Pi*freq*t))
		samples[i*Channels] = v
		samples[i*Channels+1] = v
	}
	return Int16sToBytes(samples)
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16.
func StereoToMono(b []byte) []byte {
	frames := len(b) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(b[i*4]) | int16(b[i*4+1])<<8)
		r := int32(int16(b[i*4+2]) | int16(b[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// DecimateMono16 downsamples mono s16le PCM by an integer factor, keeping
// every factor-th sample. 48 kHz to 16 kHz is factor 3. No anti-alias filter
// is applied; speech transcription tolerates the aliasing.
func DecimateMono16(b []byte, factor int) []byte {
	if factor <= 1 {
		return b
	}
	samples := len(b) / 2
	outSamples := (samples + factor - 1) / factor
	out := make([]byte, 0, outSamples*2)
	for i := 0; i < samples; i += factor {
		out = append(out, b[i*2], b[i*2+1])
	}
	return out
}
