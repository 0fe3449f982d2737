// Package codec defines the pluggable encode/decode transforms the bridge
// drives the voice gateway with, the Opus implementation backed by gopus,
// and the fault barrier that keeps a single malformed packet from taking the
// session down.
package codec

import "errors"

// ErrInit reports that a codec instance failed to initialise. This is a
// structural fault, not recoverable per-frame, and callers must fail fast
// rather than absorb it.
var ErrInit = errors.New("codec: initialisation failed")

// Decoder turns one encoded packet into interleaved s16le PCM. A decoder
// carries per-stream state and must be owned by exactly one participant
// stream, never shared.
type Decoder interface {
	Decode(packet []byte) ([]byte, error)
}

// Encoder turns one PCM frame into an encoded packet. The input must be
// exactly one frame of the bridge wire format.
type Encoder interface {
	Encode(frame []byte) ([]byte, error)
}
