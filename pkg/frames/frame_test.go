package frames

import (
	"testing"
	"time"
)

func TestAudioFrameSamplesAndDuration(t *testing.T) {
	// 160 mono samples at 8 kHz is 20ms.
	data := make([]byte, 320)
	data[0], data[1] = 0x10, 0x00
	data[2], data[3] = 0xF0, 0xFF
	af := NewAudioFrame("stream-1", 1, data, 8000, 1, nil)

	samples := af.Samples()
	if len(samples) != 160 {
		t.Fatalf("expected 160 samples, got %d", len(samples))
	}
	if samples[0] != 16 || samples[1] != -16 {
		t.Fatalf("unexpected samples %d %d", samples[0], samples[1])
	}
	if af.Duration() != 20*time.Millisecond {
		t.Fatalf("expected 20ms, got %s", af.Duration())
	}
	if af.StreamID() != "stream-1" {
		t.Fatalf("expected stream id in meta, got %q", af.StreamID())
	}
}

func TestMetaIsCopied(t *testing.T) {
	sf := NewSystemFrame("stream-1", 1, SystemCallStart, map[string]string{MetaCallSID: "CA1"})
	meta := sf.Meta()
	meta[MetaCallSID] = "changed"
	if sf.Meta()[MetaCallSID] != "CA1" {
		t.Fatalf("expected frame meta to be immutable")
	}
}
