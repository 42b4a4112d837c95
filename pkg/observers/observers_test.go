package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/sapa/pkg/metrics"
)

func event(name string, at time.Time, stream string) metrics.MetricsEvent {
	return metrics.MetricsEvent{Name: name, Time: at, Tags: map[string]string{metrics.TagStreamID: stream}}
}

func TestLatencyBreakdown(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	base := time.Unix(1000, 0)

	obs.RecordEvent(event(metrics.EventSpeechEnd, base, "s1"))
	obs.RecordEvent(event(metrics.EventTranscript, base.Add(300*time.Millisecond), "s1"))
	obs.RecordEvent(event(metrics.EventFirstToken, base.Add(500*time.Millisecond), "s1"))
	obs.RecordEvent(event(metrics.EventFirstSegment, base.Add(900*time.Millisecond), "s1"))
	obs.RecordEvent(event(metrics.EventFirstSegment, base.Add(1500*time.Millisecond), "s1"))
	obs.RecordEvent(event(metrics.EventTurnComplete, base.Add(2*time.Second), "s1"))

	b, ok := obs.Last("s1")
	if !ok {
		t.Fatalf("expected breakdown")
	}
	want := Breakdown{TranscribeMs: 300, FirstTokenMs: 200, FirstSegmentMs: 900, TurnMs: 2000}
	if b != want {
		t.Fatalf("unexpected breakdown %+v", b)
	}
	if !strings.Contains(buf.String(), "first_audio_ms=900") {
		t.Fatalf("expected latency log, got %q", buf.String())
	}
}

func TestLatencyMissingStage(t *testing.T) {
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	base := time.Unix(1000, 0)
	obs.RecordEvent(event(metrics.EventSpeechEnd, base, "s1"))
	obs.RecordEvent(event(metrics.EventTurnComplete, base.Add(time.Second), "s1"))
	b, _ := obs.Last("s1")
	if b.TranscribeMs != -1 || b.FirstSegmentMs != -1 || b.TurnMs != 1000 {
		t.Fatalf("unexpected breakdown %+v", b)
	}

	obs.RecordEvent(event(metrics.EventSessionEnd, base, "s1"))
	if _, ok := obs.Last("s1"); ok {
		t.Fatalf("expected stream forgotten after session end")
	}
}

func TestLatencyIgnoresUntaggedAndOrphanEvents(t *testing.T) {
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSpeechEnd, Time: time.Now()})
	obs.RecordEvent(event(metrics.EventTurnComplete, time.Now(), "s2"))
	if _, ok := obs.Last("s2"); ok {
		t.Fatalf("expected no breakdown without speech end")
	}
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := metrics.NewMemoryObserver(), metrics.NewMemoryObserver()
	multi := NewMultiObserver(a, nil, b)
	multi.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSegment})
	if a.Count(metrics.EventSegment) != 1 || b.Count(metrics.EventSegment) != 1 {
		t.Fatalf("expected both observers to see the event")
	}
}

func TestLoggerObserverDebugOnly(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLoggerObserver(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSegment, Value: 12})
	if buf.Len() != 0 {
		t.Fatalf("expected no output at info level")
	}
	buf.Reset()
	obs = NewLoggerObserver(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSegment, Value: 12, Tags: map[string]string{metrics.TagStreamID: "s1"}})
	if !strings.Contains(buf.String(), "latency_ms=12") || !strings.Contains(buf.String(), "stream_id=s1") {
		t.Fatalf("unexpected log %q", buf.String())
	}
}
