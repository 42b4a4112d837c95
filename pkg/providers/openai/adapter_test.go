package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/sapa/pkg/llm"
	"github.com/harunnryd/sapa/pkg/resilience"
)

func TestGenerateStreamsDeltas(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"今天", "天氣很好。"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := NewAdapter("k", "gpt-test")
	a.BaseURL = srv.URL
	s, err := a.Generate(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "天氣?"}}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	text, err := llm.Collect(context.Background(), s)
	if err != nil || text != "今天天氣很好。" {
		t.Fatalf("unexpected %q %v", text, err)
	}
	if got["model"] != "gpt-test" || got["stream"] != true {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	a := NewAdapter("k", "m")
	a.BaseURL = srv.URL
	if _, err := a.Generate(context.Background(), llm.Request{}); !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}
