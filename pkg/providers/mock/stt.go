package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/harunnryd/sapa/pkg/adapters/stt"
	"github.com/harunnryd/sapa/pkg/vad"
)

type STTConfig struct {
	Transcript string
	Language   string
	Delay      time.Duration
	Err        error
}

// Transcriber returns a fixed transcript for every utterance.
type Transcriber struct {
	cfg   STTConfig
	calls atomic.Int64
}

func NewTranscriber(cfg STTConfig) *Transcriber {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_stt" }

// Calls reports how many utterances were transcribed.
func (t *Transcriber) Calls() int64 { return t.calls.Load() }

func (t *Transcriber) Transcribe(ctx context.Context, utt vad.Utterance) (stt.Result, error) {
	t.calls.Add(1)
	if err := wait(ctx, t.cfg.Delay); err != nil {
		return stt.Result{}, err
	}
	if t.cfg.Err != nil {
		return stt.Result{}, t.cfg.Err
	}
	return stt.Result{Text: t.cfg.Transcript, Language: t.cfg.Language}, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ stt.Transcriber = (*Transcriber)(nil)
