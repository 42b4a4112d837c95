package mock

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/sapa/pkg/adapters/tts"
)

type TTSConfig struct {
	SampleRate int
	// PerRune is the amount of silence rendered per input rune.
	PerRune   time.Duration
	Delay     time.Duration
	FailTexts []string
}

// Synthesizer renders deterministic silence sized to the text.
type Synthesizer struct {
	cfg  TTSConfig
	fail map[string]bool
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.PerRune <= 0 {
		cfg.PerRune = 20 * time.Millisecond
	}
	fail := make(map[string]bool, len(cfg.FailTexts))
	for _, t := range cfg.FailTexts {
		fail[t] = true
	}
	return &Synthesizer{cfg: cfg, fail: fail}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if err := wait(ctx, s.cfg.Delay); err != nil {
		return tts.Audio{}, err
	}
	if s.fail[req.Text] {
		return tts.Audio{}, errors.New("mock synthesis failure")
	}
	d := time.Duration(utf8.RuneCountInString(req.Text)) * s.cfg.PerRune
	samples := int(d.Seconds() * float64(s.cfg.SampleRate))
	return tts.Audio{PCM: make([]byte, samples*2), SampleRate: s.cfg.SampleRate}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
