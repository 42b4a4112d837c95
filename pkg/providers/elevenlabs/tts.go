package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/sapa/pkg/adapters/tts"
	"github.com/harunnryd/sapa/pkg/emotion"
	"github.com/harunnryd/sapa/pkg/logging"
	"github.com/harunnryd/sapa/pkg/resilience"
)

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	// SampleRate selects the pcm_<rate> output format.
	SampleRate int
	BaseURL    string
}

// Synthesizer opens one stream-input websocket per sentence and collects the
// PCM it returns. Emotion parameters map onto voice settings.
type Synthesizer struct {
	cfg    Config
	dialer websocket.Dialer
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://api.elevenlabs.io"
	}
	return &Synthesizer{
		cfg:    cfg,
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

type message struct {
	Audio       string `json:"audio"`
	AudioBase64 string `json:"audio_base_64"`
	IsFinal     bool   `json:"isFinal"`
	Error       string `json:"error"`
	Message     string `json:"message"`
}

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return tts.Audio{}, errors.New("missing elevenlabs config")
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.buildURL(req.Language), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return tts.Audio{}, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		return tts.Audio{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	text := strings.TrimSpace(req.Text) + " "
	for _, payload := range []map[string]any{
		{"text": " ", "voice_settings": voiceSettings(req.Profile)},
		{"text": text, "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(payload); err != nil {
			return tts.Audio{}, err
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return tts.Audio{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(pcm) > 0 {
				break
			}
			return tts.Audio{}, err
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("elevenlabs_unparsed_message", slog.Int("bytes", len(data)))
			continue
		}
		if msg.Error != "" {
			return tts.Audio{}, fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message)
		}
		chunk := msg.Audio
		if chunk == "" {
			chunk = msg.AudioBase64
		}
		if chunk != "" {
			raw, err := base64.StdEncoding.DecodeString(chunk)
			if err != nil {
				return tts.Audio{}, err
			}
			pcm = append(pcm, raw...)
		}
		if msg.IsFinal {
			break
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if len(pcm) == 0 {
		return tts.Audio{}, errors.New("elevenlabs: no audio returned")
	}
	return tts.Audio{PCM: pcm, SampleRate: s.cfg.SampleRate}, nil
}

func (s *Synthesizer) buildURL(language string) string {
	base := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if language != "" {
		q.Set("language_code", language)
	}
	q.Set("output_format", "pcm_"+strconv.Itoa(s.cfg.SampleRate))
	return base + "?" + q.Encode()
}

// voiceSettings maps sampling temperature to stability (hotter is less
// stable) and passes speed through, clamped to the vendor's range.
func voiceSettings(p emotion.Profile) map[string]any {
	temp := p.Param(emotion.ParamTemperature, 0.8)
	stability := math.Max(0, math.Min(1, 1-temp/2))
	speed := math.Max(0.7, math.Min(1.2, p.Param(emotion.ParamSpeed, 1.0)))
	return map[string]any{
		"stability":        stability,
		"similarity_boost": 0.8,
		"speed":            speed,
	}
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
