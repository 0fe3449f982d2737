package bridge

import "github.com/dev-ansung/pipebridge/pkg/pcm"

// SilenceMixer guarantees exactly one full-size frame per tick: the live
// frame when the source produced one within the tick window, a zero-filled
// silence frame otherwise. The constant cadence is what keeps the remote
// transport from treating the session as idle.
//
// The mixer also tracks the consecutive-silence run length. The counter is
// observability only and resets on any live frame.
type SilenceMixer struct {
	consecutive uint64
	onSilence   func(consecutive uint64)
}

// NewSilenceMixer creates a mixer. onSilence, if non-nil, is invoked on each
// silence tick with the current run length; it must not block.
func NewSilenceMixer(onSilence func(uint64)) *SilenceMixer {
	return &SilenceMixer{onSilence: onSilence}
}

// Mix produces the frame for one tick. An empty live slice yields silence; a
// partial frame is zero-padded to full size with the shortfall discarded.
func (m *SilenceMixer) Mix(live []byte) (frame []byte, wasLive bool) {
	if len(live) == 0 {
		m.consecutive++
		if m.onSilence != nil {
			m.onSilence(m.consecutive)
		}
		return pcm.Silence(), false
	}
	m.consecutive = 0
	return pcm.PadToFrame(live), true
}

// ConsecutiveSilence returns how many silence ticks have been emitted since
// the last live frame.
func (m *SilenceMixer) ConsecutiveSilence() uint64 { return m.consecutive }
