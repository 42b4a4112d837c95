package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/sapa/pkg/frames"
	"github.com/harunnryd/sapa/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// Outbound frames are recorded in order.
type Transport struct {
	recvCh chan frames.Frame
	mu     sync.Mutex
	closed bool
	sent   []frames.Frame
	hung   []string
	notify chan struct{}
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan frames.Frame, 1024),
		notify: make(chan struct{}, 1),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) Send(f frames.Frame) error {
	t.mu.Lock()
	t.sent = append(t.sent, f)
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

// Push injects an inbound frame. It reports false when the frame was
// dropped because the buffer is full or the transport is stopped.
func (t *Transport) Push(f frames.Frame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	select {
	case t.recvCh <- f:
		return true
	default:
		return false
	}
}

// Hangup records the stream and injects its call_end frame.
func (t *Transport) Hangup(ctx context.Context, streamID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.hung = append(t.hung, streamID)
	t.mu.Unlock()
	t.Push(frames.NewSystemFrame(streamID, 0, frames.SystemCallEnd, map[string]string{
		frames.MetaCallEndReason: "completed",
	}))
	return nil
}

// Hangups lists streams ended through Hangup.
func (t *Transport) Hangups() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.hung...)
}

// Sent returns a snapshot of outbound frames.
func (t *Transport) Sent() []frames.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]frames.Frame(nil), t.sent...)
}

// Segments returns the outbound audio segments in send order.
func (t *Transport) Segments() []frames.AudioSegment {
	var out []frames.AudioSegment
	for _, f := range t.Sent() {
		if seg, ok := f.(frames.AudioSegment); ok {
			out = append(out, seg)
		}
	}
	return out
}

// Sending is signalled after every Send.
func (t *Transport) Sending() <-chan struct{} { return t.notify }

var (
	_ transports.Transport = (*Transport)(nil)
	_ transports.Hanger    = (*Transport)(nil)
)
