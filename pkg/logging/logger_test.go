package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupJSONWithComponent(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	base := Setup(&buf, "debug", "json")
	NewComponentLogger(base, "session").Debug("session_started", "stream_id", "s1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json record: %v", err)
	}
	if rec["component"] != "session" {
		t.Fatalf("expected component attr, got %v", rec["component"])
	}
	if rec["msg"] != "session_started" {
		t.Fatalf("unexpected msg %v", rec["msg"])
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARN") != slog.LevelWarn {
		t.Fatalf("expected warn")
	}
	if ParseLevel("") != slog.LevelInfo {
		t.Fatalf("expected info default")
	}
}
