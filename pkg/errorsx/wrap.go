package errorsx

import (
	"context"
	"errors"
	"fmt"
)

// ReasonedError wraps an error with a reason code.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e ReasonedError) Unwrap() error {
	return e.Err
}

// Wrap attaches a reason code to an error. The innermost reason is kept.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Errorf formats a new error carrying reason.
func Errorf(reason ReasonCode, format string, args ...any) error {
	return ReasonedError{Err: fmt.Errorf(format, args...), Reason: reason}
}

// Reason extracts a reason code from an error, if present.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason returns true if err contains the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// Transcription marks err as a per-utterance failure. Deadline errors are
// tagged as timeouts first so callers can tell them apart.
func Transcription(err error) error { return kind(err, ReasonTranscription) }

// Generation marks err as a generation stream failure.
func Generation(err error) error { return kind(err, ReasonGeneration) }

// Synthesis marks err as a per-sentence synthesis failure.
func Synthesis(err error) error { return kind(err, ReasonSynthesis) }

// Configuration marks err as a fatal startup problem.
func Configuration(err error) error { return Wrap(err, ReasonConfiguration) }

// KindError groups a failure under its collaborator while keeping the
// specific reason (timeout, rate limit) reachable through Unwrap.
type KindError struct {
	Kind ReasonCode
	Err  error
}

func (e KindError) Error() string {
	return string(e.Kind) + " failed: " + e.Err.Error()
}

func (e KindError) Unwrap() error { return e.Err }

// IsKind reports whether err was produced by Transcription, Generation or
// Synthesis with the given kind.
func IsKind(err error, k ReasonCode) bool {
	var ke KindError
	if errors.As(err, &ke) {
		return ke.Kind == k
	}
	return false
}

func kind(err error, k ReasonCode) error {
	if err == nil {
		return nil
	}
	if IsKind(err, k) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = Wrap(err, ReasonTimeout)
	} else {
		err = Wrap(err, k)
	}
	return KindError{Kind: k, Err: err}
}
