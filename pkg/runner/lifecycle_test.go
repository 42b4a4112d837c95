package runner

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunDrainsOnCancel(t *testing.T) {
	var drained, stopped bool
	r := NewLifecycleRunner(Options{
		Drainer: DrainerFunc(func(ctx context.Context) error {
			drained = true
			return nil
		}),
		Hooks: Hooks{OnStop: func() { stopped = true }},
	})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running, state=%s", r.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run error: %v", err)
	}
	if !drained || !stopped {
		t.Fatalf("expected drain and stop hook, drained=%v stopped=%v", drained, stopped)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
}

func TestDrainTimeout(t *testing.T) {
	r := NewLifecycleRunner(Options{
		DrainTimeout: 20 * time.Millisecond,
		Drainer: DrainerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	})
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
	// Stop is idempotent.
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected same error on second stop, got %v", err)
	}
}

func TestOnStartErrorAbortsRun(t *testing.T) {
	boom := errors.New("boom")
	r := NewLifecycleRunner(Options{Hooks: Hooks{OnStart: func(context.Context) error { return boom }}})
	if err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected second run to fail")
	}
}

func TestBannerPrintsName(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	if buf.Len() == 0 {
		t.Fatalf("expected banner output")
	}
}
