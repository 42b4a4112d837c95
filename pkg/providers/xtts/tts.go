// Package xtts calls a self-hosted XTTS server, which clones the voice from
// the profile's reference recording and honors its sampling parameters.
package xtts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/sapa/pkg/adapters/tts"
	"github.com/harunnryd/sapa/pkg/audio"
	"github.com/harunnryd/sapa/pkg/emotion"
	"github.com/harunnryd/sapa/pkg/resilience"
)

type Config struct {
	BaseURL string
	// Speaker is used when the profile carries no reference recording.
	Speaker string
	Timeout time.Duration
}

type Synthesizer struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8020"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Synthesizer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *Synthesizer) Name() string { return "xtts" }

type request struct {
	Text              string  `json:"text"`
	Language          string  `json:"language"`
	SpeakerWAV        string  `json:"speaker_wav,omitempty"`
	Speaker           string  `json:"speaker,omitempty"`
	Temperature       float64 `json:"temperature"`
	Speed             float64 `json:"speed"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	LengthPenalty     float64 `json:"length_penalty"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
}

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	p := req.Profile
	defaults := emotion.DefaultParams()
	body := request{
		Text:              req.Text,
		Language:          Language(req.Language),
		Temperature:       p.Param(emotion.ParamTemperature, defaults[emotion.ParamTemperature]),
		Speed:             p.Param(emotion.ParamSpeed, defaults[emotion.ParamSpeed]),
		RepetitionPenalty: p.Param(emotion.ParamRepetitionPenalty, defaults[emotion.ParamRepetitionPenalty]),
		LengthPenalty:     p.Param(emotion.ParamLengthPenalty, defaults[emotion.ParamLengthPenalty]),
		TopP:              p.Param(emotion.ParamTopP, defaults[emotion.ParamTopP]),
		TopK:              int(p.Param(emotion.ParamTopK, defaults[emotion.ParamTopK])),
	}
	if p.HasReference() {
		body.SpeakerWAV = base64.StdEncoding.EncodeToString(p.Reference)
	} else {
		body.Speaker = s.cfg.Speaker
	}
	b, err := json.Marshal(body)
	if err != nil {
		return tts.Audio{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.BaseURL, "/")+"/tts", bytes.NewReader(b))
	if err != nil {
		return tts.Audio{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return tts.Audio{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return tts.Audio{}, resilience.RateLimitError{Provider: "xtts", Message: resp.Status}
	case resp.StatusCode != http.StatusOK:
		return tts.Audio{}, fmt.Errorf("xtts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return decode(data, resp.Header.Get("X-Sample-Rate"))
}

// decode accepts a WAV body or raw PCM16 with the rate in a header.
func decode(data []byte, rateHeader string) (tts.Audio, error) {
	pcm, rate, channels, err := audio.DecodeWAV(data)
	if err == nil {
		if channels > 1 {
			pcm = audio.Downmix(pcm, channels)
		}
		return tts.Audio{PCM: pcm, SampleRate: rate}, nil
	}
	rate, convErr := strconv.Atoi(rateHeader)
	if convErr != nil || rate <= 0 {
		return tts.Audio{}, fmt.Errorf("xtts: undecodable audio: %w", err)
	}
	return tts.Audio{PCM: data, SampleRate: rate}, nil
}

// Language maps short codes onto the names XTTS expects.
func Language(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch {
	case lang == "":
		return "zh-cn"
	case lang == "zh" || strings.HasPrefix(lang, "zh-"):
		return "zh-cn"
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
