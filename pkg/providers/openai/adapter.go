package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/sapa/pkg/llm"
	"github.com/harunnryd/sapa/pkg/resilience"
)

// Adapter streams chat completions from any OpenAI-compatible endpoint.
type Adapter struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	Client      *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Generate(ctx context.Context, input llm.Request) (llm.Stream, error) {
	body, err := a.buildRequest(input)
	if err != nil {
		return llm.Stream{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		return llm.Stream{}, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return llm.Stream{}, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return llm.Stream{}, resilience.RateLimitError{Provider: "openai", Message: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return llm.Stream{}, fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	stream, em := llm.Pipe(64)
	go func() {
		defer resp.Body.Close()
		em.Close(readEvents(ctx, resp.Body, em))
	}()
	return stream, nil
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func readEvents(ctx context.Context, r io.Reader, em *llm.Emitter) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}
		var c chunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			continue
		}
		if c.Error != nil {
			return errors.New("openai: " + c.Error.Message)
		}
		if len(c.Choices) == 0 {
			continue
		}
		if !em.Send(ctx, c.Choices[0].Delta.Content) {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *Adapter) buildRequest(input llm.Request) (*bytes.Buffer, error) {
	messages := make([]map[string]string, 0, len(input.Messages))
	for _, m := range input.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	req := map[string]any{
		"model":    a.Model,
		"stream":   true,
		"messages": messages,
	}
	if a.Temperature > 0 {
		req["temperature"] = a.Temperature
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

var _ llm.Generator = (*Adapter)(nil)
