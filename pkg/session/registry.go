package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Factory builds an unstarted session for a new stream.
type Factory func(streamID, callSID, traceID string) (*Session, error)

// Registry owns every live session keyed by transport stream id.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  Factory
	draining atomic.Bool
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory}
}

// GetOrCreate returns the session for streamID, creating and starting one
// when absent. The bool reports whether a new session was created.
func (r *Registry) GetOrCreate(ctx context.Context, streamID, callSID, traceID string) (*Session, bool, error) {
	if streamID == "" {
		return nil, false, nil
	}
	if v, ok := r.sessions.Load(streamID); ok {
		return v.(*Session), false, nil
	}
	sess, err := r.factory(streamID, callSID, traceID)
	if err != nil {
		return nil, false, err
	}
	actual, loaded := r.sessions.LoadOrStore(streamID, sess)
	if loaded {
		_ = sess.Close()
		return actual.(*Session), false, nil
	}
	if err := sess.Start(ctx); err != nil {
		r.sessions.Delete(streamID)
		_ = sess.Close()
		return nil, false, err
	}
	r.count.Add(1)
	return sess, true, nil
}

func (r *Registry) Get(streamID string) (*Session, bool) {
	if v, ok := r.sessions.Load(streamID); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Remove closes and forgets the session.
func (r *Registry) Remove(streamID string) {
	if v, ok := r.sessions.LoadAndDelete(streamID); ok {
		_ = v.(*Session).Close()
		r.count.Add(-1)
	}
}

func (r *Registry) CloseAll() {
	r.sessions.Range(func(key, _ any) bool {
		if id, ok := key.(string); ok {
			r.Remove(id)
		}
		return true
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

// WaitForEmpty polls until every session is gone or ctx ends.
func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
