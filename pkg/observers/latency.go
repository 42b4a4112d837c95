package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/sapa/pkg/metrics"
)

// Breakdown splits one turn's response time into stages. A stage that
// never happened is -1.
type Breakdown struct {
	TranscribeMs   int64
	FirstTokenMs   int64
	FirstSegmentMs int64
	TurnMs         int64
}

// LatencyObserver follows each stream from end of speech to the first
// audible reply and logs one line per completed turn.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	last   map[string]Breakdown
	log    *slog.Logger
}

type trace struct {
	speechEnd    time.Time
	transcript   time.Time
	firstToken   time.Time
	firstSegment time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		last:   make(map[string]Breakdown),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ev.Tags[metrics.TagStreamID]
	if streamID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if ev.Name == metrics.EventSessionEnd {
		delete(o.traces, streamID)
		delete(o.last, streamID)
		return
	}
	t := o.traces[streamID]
	switch ev.Name {
	case metrics.EventSpeechEnd:
		// Speech that never produced a transcript does not start a turn.
		if t == nil || t.transcript.IsZero() {
			o.traces[streamID] = &trace{speechEnd: ev.Time}
		}
		return
	}
	if t == nil {
		return
	}
	switch ev.Name {
	case metrics.EventTranscript:
		setOnce(&t.transcript, ev.Time)
	case metrics.EventFirstToken:
		setOnce(&t.firstToken, ev.Time)
	case metrics.EventFirstSegment:
		setOnce(&t.firstSegment, ev.Time)
	case metrics.EventTurnComplete:
		b := Breakdown{
			TranscribeMs:   durationMs(t.speechEnd, t.transcript),
			FirstTokenMs:   durationMs(t.transcript, t.firstToken),
			FirstSegmentMs: durationMs(t.speechEnd, t.firstSegment),
			TurnMs:         durationMs(t.speechEnd, ev.Time),
		}
		o.last[streamID] = b
		delete(o.traces, streamID)
		o.log.Info("latency",
			"stream_id", streamID,
			"stt_ms", b.TranscribeMs,
			"llm_first_token_ms", b.FirstTokenMs,
			"first_audio_ms", b.FirstSegmentMs,
			"turn_ms", b.TurnMs,
		)
	}
}

// Last returns the breakdown of the most recent completed turn on a stream.
func (o *LatencyObserver) Last(streamID string) (Breakdown, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.last[streamID]
	return b, ok
}

func setOnce(dst *time.Time, v time.Time) {
	if dst.IsZero() {
		*dst = v
	}
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
