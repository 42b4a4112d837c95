package sapa

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/spf13/viper"
)

const DefaultGreeting = "你好！我是你的語音助理，有什麼可以幫助你的嗎？"

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Greeting      GreetingConfig      `mapstructure:"greeting"`
	VAD           VADConfig           `mapstructure:"vad"`
	Segmenter     SegmenterConfig     `mapstructure:"segmenter"`
	Emotion       EmotionConfig       `mapstructure:"emotion"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Timeouts      TimeoutsConfig      `mapstructure:"timeouts"`
	Context       ContextConfig       `mapstructure:"context"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Session       SessionConfig       `mapstructure:"session"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	RTC           RTCConfig           `mapstructure:"rtc"`
}

type GreetingConfig struct {
	Text     string `mapstructure:"text"`
	Language string `mapstructure:"language"`
	Profile  string `mapstructure:"profile"`
}

type VADConfig struct {
	PauseThresholdMS   int     `mapstructure:"pause_threshold_ms"`
	EnergyThreshold    float64 `mapstructure:"energy_threshold"`
	MinSpeechMS        int     `mapstructure:"min_speech_ms"`
	MaxPreSpeechFrames int     `mapstructure:"max_pre_speech_frames"`
	MaxUtteranceMS     int     `mapstructure:"max_utterance_ms"`
}

type SegmenterConfig struct {
	MinRunes int `mapstructure:"min_runes"`
}

type EmotionConfig struct {
	Dir              string                        `mapstructure:"dir"`
	DefaultReference string                        `mapstructure:"default_reference"`
	Presets          map[string]map[string]float64 `mapstructure:"presets"`
	Keywords         map[string][]string           `mapstructure:"keywords"`
}

type SynthesisConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
}

type TimeoutsConfig struct {
	TranscribeMS int `mapstructure:"transcribe_ms"`
	GenerateMS   int `mapstructure:"generate_ms"`
	SynthesizeMS int `mapstructure:"synthesize_ms"`
	GreetingMS   int `mapstructure:"greeting_ms"`
}

type ContextConfig struct {
	MaxHistory int `mapstructure:"max_history"`
}

type LLMConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`
}

type SessionConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	LLM VendorConfig `mapstructure:"llm"`
	TTS VendorConfig `mapstructure:"tts"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ObservabilityConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
	// MetricsAddr serves metrics on a separate listener. Empty mounts
	// them on the transport server.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type RTCConfig struct {
	STUNURLs       []string `mapstructure:"stun_urls"`
	TURNURL        string   `mapstructure:"turn_url"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("greeting.text", DefaultGreeting)
	v.SetDefault("greeting.language", "zh")
	v.SetDefault("greeting.profile", "neutral")
	v.SetDefault("vad.pause_threshold_ms", 800)
	v.SetDefault("vad.energy_threshold", 0.02)
	v.SetDefault("vad.min_speech_ms", 120)
	v.SetDefault("vad.max_pre_speech_frames", 25)
	v.SetDefault("vad.max_utterance_ms", 30000)
	v.SetDefault("segmenter.min_runes", 0)
	v.SetDefault("emotion.dir", "resource/emotions")
	v.SetDefault("emotion.default_reference", "${TTS_SPEAKER_WAV}")
	v.SetDefault("synthesis.concurrency", 3)
	v.SetDefault("synthesis.retries", 1)
	v.SetDefault("synthesis.retry_backoff_ms", 150)
	v.SetDefault("timeouts.transcribe_ms", 15000)
	v.SetDefault("timeouts.generate_ms", 60000)
	v.SetDefault("timeouts.synthesize_ms", 20000)
	v.SetDefault("timeouts.greeting_ms", 20000)
	v.SetDefault("context.max_history", 12)
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("session.queue_size", 256)
	v.SetDefault("vendors.stt.provider", "")
	v.SetDefault("vendors.llm.provider", "")
	v.SetDefault("vendors.tts.provider", "")
	v.SetDefault("transports.provider", "")
	v.SetDefault("observability.metrics_path", "/metrics")
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("privacy.redact_pii", true)
}

// LoadConfig reads path (YAML, JSON or TOML) on top of the defaults.
// SAPA_ prefixed environment variables override file values, with dots in
// keys written as underscores. ${VAR} references in strings are expanded.
// An empty path loads defaults and environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SAPA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Configuration(fmt.Errorf("read config: %w", err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Configuration(fmt.Errorf("unmarshal: %w", err))
	}
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once as a configuration error.
func (c *Config) Validate() error {
	var errs []error
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	require(strings.TrimSpace(c.Transports.Provider) != "", "transports.provider is required")
	require(strings.TrimSpace(c.Vendors.STT.Provider) != "", "vendors.stt.provider is required")
	require(strings.TrimSpace(c.Vendors.LLM.Provider) != "", "vendors.llm.provider is required")
	require(strings.TrimSpace(c.Vendors.TTS.Provider) != "", "vendors.tts.provider is required")
	require(c.VAD.PauseThresholdMS > 0, "vad.pause_threshold_ms must be positive")
	require(c.VAD.EnergyThreshold > 0 && c.VAD.EnergyThreshold <= 1, "vad.energy_threshold must be in (0, 1]")
	require(c.VAD.MinSpeechMS >= 0, "vad.min_speech_ms must not be negative")
	require(c.Segmenter.MinRunes >= 0, "segmenter.min_runes must not be negative")
	require(c.Synthesis.Concurrency >= 1, "synthesis.concurrency must be at least 1")
	require(c.Synthesis.Retries >= 0, "synthesis.retries must not be negative")
	require(c.Context.MaxHistory >= 1, "context.max_history must be at least 1")
	require(c.Session.QueueSize >= 1, "session.queue_size must be at least 1")
	for name, t := range map[string]int{
		"timeouts.transcribe_ms": c.Timeouts.TranscribeMS,
		"timeouts.generate_ms":   c.Timeouts.GenerateMS,
		"timeouts.synthesize_ms": c.Timeouts.SynthesizeMS,
		"timeouts.greeting_ms":   c.Timeouts.GreetingMS,
	} {
		require(t > 0, "%s must be positive", name)
	}
	require(strings.TrimSpace(c.Greeting.Text) != "", "greeting.text is required")
	require(strings.TrimSpace(c.Greeting.Language) != "", "greeting.language is required")
	if len(errs) == 0 {
		return nil
	}
	return errorsx.Configuration(fmt.Errorf("validate config: %w", errors.Join(errs...)))
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			if ks, ok := k.(string); ok {
				out[ks] = expandAny(v)
			}
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				v.SetMapIndex(key, reflect.ValueOf(os.ExpandEnv(v.MapIndex(key).String())))
			}
		}
	}
}
