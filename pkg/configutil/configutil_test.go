package configutil

import (
	"strings"
	"testing"
	"time"
)

type vendorSettings struct {
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Rate    int           `mapstructure:"sample_rate"`
	Tags    []string      `mapstructure:"tags"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out vendorSettings
	err := DecodeSettings(map[string]any{
		"API-KEY":    "k",
		"timeout":    "250ms",
		"sampleRate": "24000",
		"tags":       "a,b",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "k" || out.Timeout != 250*time.Millisecond || out.Rate != 24000 {
		t.Fatalf("unexpected decode result: %+v", out)
	}
	if len(out.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", out.Tags)
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}
	if err := ValidateSettings("deepgram", map[string]any{"apiKey": "x", "model": "nova-2"}, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateSettings("deepgram", map[string]any{"api_key": " ", "voice": "x"}, schema)
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "missing: api_key") || !strings.Contains(msg, "unknown: voice") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestMillis(t *testing.T) {
	if Millis(0, time.Second) != time.Second {
		t.Fatalf("expected fallback")
	}
	if Millis(20, time.Second) != 20*time.Millisecond {
		t.Fatalf("expected 20ms")
	}
}
