package codec

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/dev-ansung/pipebridge/pkg/pcm"
)

// Compile-time interface assertions.
var (
	_ Decoder = (*OpusDecoder)(nil)
	_ Encoder = (*OpusEncoder)(nil)
)

// OpusDecoder decodes Opus packets for a single participant stream. Decoder
// state spans consecutive packets, so each participant gets its own instance.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates a decoder configured for the bridge wire format
// (48 kHz stereo). Failure is an [ErrInit]-kind error.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(pcm.SampleRate, pcm.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: opus decoder: %v", ErrInit, err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus packet into s16le PCM bytes.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	out, err := d.dec.Decode(packet, pcm.SamplesPerFrame, false)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return pcm.Int16sToBytes(out), nil
}

// OpusEncoder encodes PCM frames into Opus packets for the outbound stream.
type OpusEncoder struct {
	enc *gopus.Encoder
}

// NewOpusEncoder creates an encoder configured for the bridge wire format.
// Failure is an [ErrInit]-kind error.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(pcm.SampleRate, pcm.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoder: %v", ErrInit, err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes exactly one frame of s16le PCM into an Opus packet.
func (e *OpusEncoder) Encode(frame []byte) ([]byte, error) {
	if len(frame) != pcm.FrameBytes {
		return nil, fmt.Errorf("codec: opus encode: frame is %d bytes, want %d", len(frame), pcm.FrameBytes)
	}
	out, err := e.enc.Encode(pcm.BytesToInt16s(frame), pcm.SamplesPerFrame, pcm.FrameBytes)
	if err != nil {
		return nil, fmt.Errorf("codec: opus encode: %w", err)
	}
	return out, nil
}
