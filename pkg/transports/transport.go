package transports

import (
	"context"
	"net/http"

	"github.com/harunnryd/sapa/pkg/frames"
)

// Transport defines a vendor-agnostic I/O boundary. Inbound it yields
// call_start, audio and call_end frames; outbound it accepts AudioSegment
// frames in Seq order. Implementations own their network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// Hanger ends an active call from the server side.
type Hanger interface {
	Hangup(ctx context.Context, streamID string) error
}

// HandlerMounter lets the engine expose extra endpoints, such as metrics,
// on the transport's HTTP server. Mount must be called before Start.
type HandlerMounter interface {
	Mount(pattern string, h http.Handler)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
