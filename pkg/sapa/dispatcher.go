package sapa

import (
	"log/slog"

	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/harunnryd/sapa/pkg/frames"
	"github.com/harunnryd/sapa/pkg/metrics"
	"github.com/harunnryd/sapa/pkg/transports"
)

// SegmentDispatcher forwards each session's audio segments to the
// transport. Segments arrive already in Seq order, so one goroutine per
// session keeps playback ordered.
type SegmentDispatcher struct {
	transport transports.Transport
	logger    *slog.Logger
	obs       metrics.Observer
}

func NewSegmentDispatcher(t transports.Transport, logger *slog.Logger, obs metrics.Observer) *SegmentDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentDispatcher{transport: t, logger: logger, obs: obs}
}

// Pump blocks until segs is closed. A failed send is logged and the next
// segment is still attempted.
func (d *SegmentDispatcher) Pump(streamID string, segs <-chan frames.AudioSegment) {
	var sent, failed int
	for seg := range segs {
		if err := d.transport.Send(seg); err != nil {
			failed++
			metrics.Emit(d.obs, metrics.EventSendError, 1, map[string]string{
				metrics.TagStreamID:  streamID,
				metrics.TagComponent: "transport",
			})
			d.logger.Warn("segment_send_failed",
				"stream_id", streamID,
				"seq", seg.Seq,
				"reason", string(errorsx.Reason(err)),
				"error", err.Error(),
			)
			continue
		}
		sent++
	}
	d.logger.Debug("segment_pump_done", "stream_id", streamID, "sent", sent, "failed", failed)
}
