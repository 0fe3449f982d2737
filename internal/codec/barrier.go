package codec

import (
	"log/slog"
	"sync/atomic"

	"github.com/dev-ansung/pipebridge/pkg/pcm"
)

// DecodeBarrier wraps a [Decoder] with per-frame error containment: a
// malformed packet degrades to a silence frame instead of propagating an
// error up the path, preserving the tick-cadence invariant of the consumer.
// Structural faults never reach the barrier; decoder construction fails
// fast at [NewOpusDecoder] with [ErrInit].
//
// A barrier is owned by a single participant stream and is not safe for
// concurrent use, except for [DecodeBarrier.Faults] which may be read from
// anywhere.
type DecodeBarrier struct {
	dec     Decoder
	faults  atomic.Uint64
	onFault func() // optional observability hook
}

// NewDecodeBarrier wraps dec. onFault, if non-nil, is invoked once per
// absorbed fault (for metrics); it must not block.
func NewDecodeBarrier(dec Decoder, onFault func()) *DecodeBarrier {
	return &DecodeBarrier{dec: dec, onFault: onFault}
}

// Decode returns the decoded PCM padded to exactly one frame. On a decode
// fault it returns a silence frame, increments the fault counter, and never
// returns an error; the session keeps running.
func (b *DecodeBarrier) Decode(packet []byte) []byte {
	out, err := b.dec.Decode(packet)
	if err != nil {
		b.recordFault("decode", err)
		return pcm.Silence()
	}
	return pcm.PadToFrame(out)
}

// Faults returns the number of packets absorbed so far.
func (b *DecodeBarrier) Faults() uint64 {
	return b.faults.Load()
}

func (b *DecodeBarrier) recordFault(op string, err error) {
	b.faults.Add(1)
	if b.onFault != nil {
		b.onFault()
	}
	slog.Warn("dropped corrupted packet", "op", op, "error", err)
}

// EncodeBarrier wraps an [Encoder] the same way: a frame that fails to
// encode is replaced by an encoded silence frame so the outbound cadence
// never stalls. If even silence fails to encode the frame is skipped and
// counted.
type EncodeBarrier struct {
	enc     Encoder
	faults  atomic.Uint64
	onFault func()
}

// NewEncodeBarrier wraps enc. onFault, if non-nil, is invoked once per
// absorbed fault; it must not block.
func NewEncodeBarrier(enc Encoder, onFault func()) *EncodeBarrier {
	return &EncodeBarrier{enc: enc, onFault: onFault}
}

// Encode encodes one frame, substituting silence on a transient fault.
// ok is false only when nothing could be encoded at all.
func (b *EncodeBarrier) Encode(frame []byte) (packet []byte, ok bool) {
	out, err := b.enc.Encode(frame)
	if err == nil {
		return out, true
	}
	b.faults.Add(1)
	if b.onFault != nil {
		b.onFault()
	}
	slog.Warn("encode fault, substituting silence", "error", err)

	out, err = b.enc.Encode(pcm.Silence())
	if err != nil {
		slog.Warn("silence substitute failed to encode, skipping frame", "error", err)
		return nil, false
	}
	return out, true
}

// Faults returns the number of frames absorbed so far.
func (b *EncodeBarrier) Faults() uint64 {
	return b.faults.Load()
}
