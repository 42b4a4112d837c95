package stt

import (
	"context"

	"github.com/harunnryd/sapa/pkg/vad"
)

// Transcriber defines the contract for any STT vendor implementation.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts one finished utterance to text.
	Transcribe(ctx context.Context, utt vad.Utterance) (Result, error)
}

// Result is a final transcript. Language is empty when the vendor did not
// detect one.
type Result struct {
	Text     string
	Language string
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	Language string
	Model    string
}
