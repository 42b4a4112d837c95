package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyHonorsRetryable(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return ErrCircuitOpen
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries, got %d calls", calls)
	}
}

func TestRetryPolicyCancelledContext(t *testing.T) {
	p := NewRetryPolicy(5, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call after cancel, got %d", calls)
	}
}

func TestCircuitBreakerOpensOnRateLimit(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	rl := RateLimitError{Provider: "tts"}
	_ = cb.Call(func() error { return errors.New("other") })
	if !cb.Allow() {
		t.Fatalf("non rate limit errors must not open the breaker")
	}
	_ = cb.Call(func() error { return rl })
	_ = cb.Call(func() error { return rl })
	if err := cb.Call(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	cb.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to close after cooldown, got %v", err)
	}
}
