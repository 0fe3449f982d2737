package pcm_test

import (
	"bytes"
	"testing"

	"github.com/dev-ansung/pipebridge/pkg/pcm"
)

func TestFrameBytes(t *testing.T) {
	// 960 samples/channel × 2 channels × 2 bytes = 3840.
	if pcm.FrameBytes != 3840 {
		t.Fatalf("FrameBytes = %d, want 3840", pcm.FrameBytes)
	}
	if pcm.SamplesPerFrame != 960 {
		t.Fatalf("SamplesPerFrame = %d, want 960", pcm.SamplesPerFrame)
	}
}

func TestSilence(t *testing.T) {
	s := pcm.Silence()
	if len(s) != pcm.FrameBytes {
		t.Fatalf("len = %d, want %d", len(s), pcm.FrameBytes)
	}
	for i, b := range s {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestPadToFrame(t *testing.T) {
	tests := []struct {
		name  string
		inLen int
	}{
		{"empty", 0},
		{"short", 100},
		{"one byte under", pcm.FrameBytes - 1},
		{"exact", pcm.FrameBytes},
		{"over", pcm.FrameBytes + 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := bytes.Repeat([]byte{0x7f}, tt.inLen)
			out := pcm.PadToFrame(in)
			if len(out) != pcm.FrameBytes {
				t.Fatalf("len = %d, want %d", len(out), pcm.FrameBytes)
			}
			keep := min(tt.inLen, pcm.FrameBytes)
			for i := range keep {
				if out[i] != 0x7f {
					t.Fatalf("byte %d = %d, want 0x7f", i, out[i])
				}
			}
			for i := keep; i < pcm.FrameBytes; i++ {
				if out[i] != 0 {
					t.Fatalf("pad byte %d = %d, want 0", i, out[i])
				}
			}
		})
	}
}

func TestSumSaturate(t *testing.T) {
	tests := []struct {
		name    string
		a, b    int16
		wantSum int16
	}{
		{"simple add", 100, 200, 300},
		{"negative add", -100, -200, -300},
		{"saturate high", 30000, 10000, 32767},
		{"saturate low", -30000, -10000, -32768},
		{"opposite cancel", 5000, -5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := pcm.Int16sToBytes([]int16{tt.a, tt.a})
			src := pcm.Int16sToBytes([]int16{tt.b, tt.b})
			pcm.SumSaturate(dst, src)
			got := pcm.BytesToInt16s(dst)
			for i, s := range got {
				if s != tt.wantSum {
					t.Errorf("sample %d = %d, want %d", i, s, tt.wantSum)
				}
			}
		})
	}
}

func TestSumSaturateConstantTones(t *testing.T) {
	// Two participants at constant amplitude: the combined frame must equal
	// the saturated sum at every sample, with no wraparound.
	dst := make([]byte, pcm.FrameBytes)
	src := make([]byte, pcm.FrameBytes)
	copy(dst, pcm.Int16sToBytes(constSamples(20000, pcm.FrameBytes/2)))
	copy(src, pcm.Int16sToBytes(constSamples(20000, pcm.FrameBytes/2)))

	pcm.SumSaturate(dst, src)

	for i, s := range pcm.BytesToInt16s(dst) {
		if s != 32767 {
			t.Fatalf("sample %d = %d, want saturated 32767", i, s)
		}
	}
}

func TestInt16RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	got := pcm.BytesToInt16s(pcm.Int16sToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	stereo := pcm.Int16sToBytes([]int16{100, 200, -400, -600, 32767, 32767})
	mono := pcm.BytesToInt16s(pcm.StereoToMono(stereo))
	want := []int16{150, -500, 32767}
	if len(mono) != len(want) {
		t.Fatalf("len = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestDecimateMono16(t *testing.T) {
	in := pcm.Int16sToBytes([]int16{1, 2, 3, 4, 5, 6, 7})
	out := pcm.BytesToInt16s(pcm.DecimateMono16(in, 3))
	want := []int16{1, 4, 7}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestSine(t *testing.T) {
	const freq, amp, frames = 440.0, 16000, 5
	b := pcm.Sine(freq, amp, frames)
	if len(b) != frames*pcm.FrameBytes {
		t.Fatalf("len = %d, want %d", len(b), frames*pcm.FrameBytes)
	}

	samples := pcm.BytesToInt16s(b)
	if samples[0] != 0 {
		t.Errorf("sample 0 = %d, want 0", samples[0])
	}

	var peak int16
	for i := 0; i < len(samples); i += 2 {
		if samples[i] != samples[i+1] {
			t.Fatalf("sample %d: channels differ (%d vs %d)", i/2, samples[i], samples[i+1])
		}
		if samples[i] > peak {
			peak = samples[i]
		}
	}
	if peak < amp*9/10 || peak > amp {
		t.Errorf("peak = %d, want close to %d", peak, amp)
	}
}

func constSamples(v int16, n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return s
}
