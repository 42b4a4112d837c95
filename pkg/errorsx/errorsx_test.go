package errorsx

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonGeneration)
	if Reason(err) != ReasonGeneration {
		t.Fatalf("expected reason %s, got %s", ReasonGeneration, Reason(err))
	}
	if !HasReason(err, ReasonGeneration) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonRateLimit)
	second := Wrap(first, ReasonSynthesis)
	if Reason(second) != ReasonRateLimit {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestKindTagsDeadlineAsTimeout(t *testing.T) {
	err := Synthesis(fmt.Errorf("tts call: %w", context.DeadlineExceeded))
	if !IsKind(err, ReasonSynthesis) {
		t.Fatalf("expected synthesis kind")
	}
	if Reason(err) != ReasonTimeout {
		t.Fatalf("expected timeout reason, got %s", Reason(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline to stay reachable")
	}
	if IsKind(err, ReasonTranscription) {
		t.Fatalf("unexpected transcription kind")
	}
}

func TestKindIsIdempotent(t *testing.T) {
	err := Transcription(assertErr{})
	again := Transcription(err)
	if again.Error() != err.Error() {
		t.Fatalf("expected no double wrapping, got %q", again.Error())
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
