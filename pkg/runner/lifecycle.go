package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var ErrDrainTimeout = errors.New("drain timeout")

type Options struct {
	Drainer      Drainer
	Hooks        Hooks
	DrainTimeout time.Duration
	Banner       io.Writer
}

type LifecycleRunner struct {
	state    atomic.Int32
	cancel   context.CancelFunc
	mu       sync.Mutex
	stopping bool
	onceStop sync.Once
	opts     Options
	stopErr  error
}

func NewLifecycleRunner(opts Options) *LifecycleRunner {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	return &LifecycleRunner{opts: opts}
}

// Run blocks until ctx ends or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return errors.New("invalid state transition")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	stopping := r.stopping
	r.mu.Unlock()
	defer cancel()
	if stopping {
		return r.stop()
	}

	PrintBanner(r.opts.Banner)
	if r.opts.Hooks.OnStart != nil {
		if err := r.opts.Hooks.OnStart(ctx); err != nil {
			r.setState(StateStopped)
			return err
		}
	}
	if !r.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		return r.stop()
	}
	<-ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	r.stopping = true
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.opts.Drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.DrainTimeout)
			err := r.opts.Drainer.Drain(ctx)
			cancel()
			if err != nil {
				r.stopErr = err
				if errors.Is(err, context.DeadlineExceeded) {
					r.stopErr = ErrDrainTimeout
				}
			}
		}
		if r.opts.Hooks.OnStop != nil {
			r.opts.Hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) setState(s State) {
	r.state.Store(int32(s))
}
