package sapa

import (
	"time"

	"github.com/harunnryd/sapa/pkg/adapters/stt"
	"github.com/harunnryd/sapa/pkg/adapters/tts"
	"github.com/harunnryd/sapa/pkg/configutil"
	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/harunnryd/sapa/pkg/llm"
	"github.com/harunnryd/sapa/pkg/providers/deepgram"
	"github.com/harunnryd/sapa/pkg/providers/elevenlabs"
	"github.com/harunnryd/sapa/pkg/providers/mock"
	"github.com/harunnryd/sapa/pkg/providers/ollama"
	"github.com/harunnryd/sapa/pkg/providers/openai"
	"github.com/harunnryd/sapa/pkg/providers/xtts"
	"github.com/harunnryd/sapa/pkg/transports"
	mocktransport "github.com/harunnryd/sapa/pkg/transports/mock"
	"github.com/harunnryd/sapa/pkg/transports/twilio"
	"github.com/harunnryd/sapa/pkg/transports/websocket"
)

// DefaultProviders returns a registry with every bundled provider and
// transport.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()
	RegisterBuiltins(r)
	return r
}

func RegisterBuiltins(r *ProviderRegistry) {
	r.RegisterTranscriber("deepgram", newDeepgram)
	r.RegisterTranscriber("mock", newMockTranscriber)
	r.RegisterGenerator("ollama", newOllama)
	r.RegisterGenerator("openai", newOpenAI)
	r.RegisterGenerator("mock", newMockGenerator)
	r.RegisterSynthesizer("elevenlabs", newElevenLabs)
	r.RegisterSynthesizer("xtts", newXTTS)
	r.RegisterSynthesizer("mock", newMockSynthesizer)
	r.RegisterTransport("twilio", newTwilio)
	r.RegisterTransport("websocket", newWebsocket)
	r.RegisterTransport("mock", func(Config) (transports.Transport, error) { return mocktransport.New(), nil })
}

func decode(name string, settings map[string]any, schema configutil.Schema, out any) error {
	if err := configutil.ValidateSettings(name, settings, schema); err != nil {
		return errorsx.Configuration(err)
	}
	if err := configutil.DecodeSettings(settings, out); err != nil {
		return errorsx.Configuration(err)
	}
	return nil
}

func newDeepgram(cfg Config) (stt.Transcriber, error) {
	var s struct {
		APIKey      string `mapstructure:"api_key"`
		Model       string `mapstructure:"model"`
		Language    string `mapstructure:"language"`
		SmartFormat bool   `mapstructure:"smart_format"`
	}
	s.SmartFormat = true
	schema := configutil.Schema{Required: []string{"api_key"}, Optional: []string{"model", "language", "smart_format"}}
	if err := decode("vendors.stt.settings", cfg.Vendors.STT.Settings, schema, &s); err != nil {
		return nil, err
	}
	return deepgram.New(deepgram.Config{APIKey: s.APIKey, Model: s.Model, Language: s.Language, SmartFormat: s.SmartFormat}), nil
}

func newMockTranscriber(cfg Config) (stt.Transcriber, error) {
	var s struct {
		Transcript string        `mapstructure:"transcript"`
		Language   string        `mapstructure:"language"`
		Delay      time.Duration `mapstructure:"delay"`
	}
	schema := configutil.Schema{Optional: []string{"transcript", "language", "delay"}}
	if err := decode("vendors.stt.settings", cfg.Vendors.STT.Settings, schema, &s); err != nil {
		return nil, err
	}
	return mock.NewTranscriber(mock.STTConfig{Transcript: s.Transcript, Language: s.Language, Delay: s.Delay}), nil
}

func newOllama(cfg Config) (llm.Generator, error) {
	var s struct {
		BaseURL string         `mapstructure:"base_url"`
		Model   string         `mapstructure:"model"`
		Timeout time.Duration  `mapstructure:"timeout"`
		Options map[string]any `mapstructure:"options"`
	}
	schema := configutil.Schema{Required: []string{"model"}, Optional: []string{"base_url", "timeout", "options"}}
	if err := decode("vendors.llm.settings", cfg.Vendors.LLM.Settings, schema, &s); err != nil {
		return nil, err
	}
	if s.Timeout <= 0 {
		s.Timeout = configutil.Millis(cfg.Timeouts.GenerateMS, 60*time.Second)
	}
	return ollama.NewGenerator(ollama.Config{BaseURL: s.BaseURL, Model: s.Model, Timeout: s.Timeout, Options: s.Options}), nil
}

func newOpenAI(cfg Config) (llm.Generator, error) {
	var s struct {
		APIKey      string        `mapstructure:"api_key"`
		Model       string        `mapstructure:"model"`
		BaseURL     string        `mapstructure:"base_url"`
		Temperature float64       `mapstructure:"temperature"`
		Timeout     time.Duration `mapstructure:"timeout"`
	}
	schema := configutil.Schema{Required: []string{"api_key", "model"}, Optional: []string{"base_url", "temperature", "timeout"}}
	if err := decode("vendors.llm.settings", cfg.Vendors.LLM.Settings, schema, &s); err != nil {
		return nil, err
	}
	a := openai.NewAdapter(s.APIKey, s.Model)
	if s.BaseURL != "" {
		a.BaseURL = s.BaseURL
	}
	a.Temperature = s.Temperature
	if s.Timeout > 0 {
		a.Client.Timeout = s.Timeout
	}
	return a, nil
}

func newMockGenerator(cfg Config) (llm.Generator, error) {
	var s struct {
		ResponseText string        `mapstructure:"response_text"`
		Chunks       []string      `mapstructure:"chunks"`
		ChunkDelay   time.Duration `mapstructure:"chunk_delay"`
	}
	schema := configutil.Schema{Optional: []string{"response_text", "chunks", "chunk_delay"}}
	if err := decode("vendors.llm.settings", cfg.Vendors.LLM.Settings, schema, &s); err != nil {
		return nil, err
	}
	return mock.NewGenerator(mock.LLMConfig{ResponseText: s.ResponseText, StreamChunks: s.Chunks, ChunkDelay: s.ChunkDelay}), nil
}

func newElevenLabs(cfg Config) (tts.Synthesizer, error) {
	var s struct {
		APIKey     string `mapstructure:"api_key"`
		VoiceID    string `mapstructure:"voice_id"`
		ModelID    string `mapstructure:"model_id"`
		SampleRate int    `mapstructure:"sample_rate"`
		BaseURL    string `mapstructure:"base_url"`
	}
	schema := configutil.Schema{Required: []string{"api_key", "voice_id"}, Optional: []string{"model_id", "sample_rate", "base_url"}}
	if err := decode("vendors.tts.settings", cfg.Vendors.TTS.Settings, schema, &s); err != nil {
		return nil, err
	}
	return elevenlabs.New(elevenlabs.Config{APIKey: s.APIKey, VoiceID: s.VoiceID, ModelID: s.ModelID, SampleRate: s.SampleRate, BaseURL: s.BaseURL}), nil
}

func newXTTS(cfg Config) (tts.Synthesizer, error) {
	var s struct {
		BaseURL string        `mapstructure:"base_url"`
		Speaker string        `mapstructure:"speaker"`
		Timeout time.Duration `mapstructure:"timeout"`
	}
	schema := configutil.Schema{Optional: []string{"base_url", "speaker", "timeout"}}
	if err := decode("vendors.tts.settings", cfg.Vendors.TTS.Settings, schema, &s); err != nil {
		return nil, err
	}
	if s.Timeout <= 0 {
		s.Timeout = configutil.Millis(cfg.Timeouts.SynthesizeMS, 30*time.Second)
	}
	return xtts.New(xtts.Config{BaseURL: s.BaseURL, Speaker: s.Speaker, Timeout: s.Timeout}), nil
}

func newMockSynthesizer(cfg Config) (tts.Synthesizer, error) {
	var s struct {
		SampleRate int           `mapstructure:"sample_rate"`
		PerRune    time.Duration `mapstructure:"per_rune"`
		Delay      time.Duration `mapstructure:"delay"`
	}
	schema := configutil.Schema{Optional: []string{"sample_rate", "per_rune", "delay"}}
	if err := decode("vendors.tts.settings", cfg.Vendors.TTS.Settings, schema, &s); err != nil {
		return nil, err
	}
	return mock.NewSynthesizer(mock.TTSConfig{SampleRate: s.SampleRate, PerRune: s.PerRune, Delay: s.Delay}), nil
}

func newTwilio(cfg Config) (transports.Transport, error) {
	var tc twilio.Config
	if err := configutil.DecodeSettings(cfg.Transports.Settings, &tc); err != nil {
		return nil, errorsx.Configuration(err)
	}
	return twilio.New(tc), nil
}

func newWebsocket(cfg Config) (transports.Transport, error) {
	var wc websocket.Config
	if err := configutil.DecodeSettings(cfg.Transports.Settings, &wc); err != nil {
		return nil, errorsx.Configuration(err)
	}
	wc.RTC = websocket.RTCConfig{
		STUNURLs:       cfg.RTC.STUNURLs,
		TURNURL:        cfg.RTC.TURNURL,
		TURNUsername:   cfg.RTC.TURNUsername,
		TURNCredential: cfg.RTC.TURNCredential,
	}
	return websocket.New(wc), nil
}
