package tts

import (
	"context"

	"github.com/harunnryd/sapa/pkg/emotion"
)

// Synthesizer defines the contract for any TTS vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders one sentence with the given voice profile.
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

type Request struct {
	Text     string
	Language string
	Profile  emotion.Profile
}

// Audio is PCM16 little-endian mono.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	SampleRate int
	Voice      string
}
