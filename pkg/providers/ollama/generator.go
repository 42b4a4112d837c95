// Package ollama streams replies from a local Ollama server's chat API.
package ollama

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
)

type Config struct {
	BaseURL string
	Model   string
	// Options are passed through as the request "options" object.
	Options map[string]any
	Timeout time.Duration
}

type Generator struct {
	cfg    Config
	client *http.Client
}

func NewGenerator(cfg Config) *Generator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Generator{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (g *Generator) Name() string { return "ollama" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Think    bool           `json:"think"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatLine struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (g *Generator) Generate(ctx context.Context, req llm.Request) (llm.Stream, error) {
	body := chatRequest{Model: g.cfg.Model, Stream: true, Options: g.cfg.Options}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	b, err := json.Marshal(body)
	if err != nil {
		return llm.Stream{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.BaseURL, "/")+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return llm.Stream{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return llm.Stream{}, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return llm.Stream{}, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	stream, em := llm.Pipe(64)
	go func() {
		defer resp.Body.Close()
		em.Close(readLines(ctx, resp.Body, em))
	}()
	return stream, nil
}

// readLines consumes newline-delimited JSON until a line reports done.
func readLines(ctx context.Context, r io.Reader, em *llm.Emitter) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var cl chatLine
		if err := json.Unmarshal(line, &cl); err != nil {
			continue
		}
		if cl.Error != "" {
			return errors.New("ollama: " + cl.Error)
		}
		if !em.Send(ctx, cl.Message.Content) {
			return ctx.Err()
		}
		if cl.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("ollama: stream ended before done")
}

var _ llm.Generator = (*Generator)(nil)
