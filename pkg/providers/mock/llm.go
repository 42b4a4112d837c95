package mock

import (
	"context"
	"time"

	"github.com/harunnryd/sapa/pkg/llm"
)

type LLMConfig struct {
	ResponseText string
	StreamChunks []string
	ChunkDelay   time.Duration
	// Err is returned before streaming; StreamErr ends the stream after
	// the chunks.
	Err       error
	StreamErr error
}

type Generator struct {
	cfg LLMConfig
}

func NewGenerator(cfg LLMConfig) *Generator {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response."
	}
	return &Generator{cfg: cfg}
}

func (g *Generator) Name() string { return "mock_llm" }

func (g *Generator) Generate(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if g.cfg.Err != nil {
		return llm.Stream{}, g.cfg.Err
	}
	chunks := g.cfg.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{g.cfg.ResponseText}
	}
	stream, em := llm.Pipe(len(chunks))
	go func() {
		for _, chunk := range chunks {
			if err := wait(ctx, g.cfg.ChunkDelay); err != nil {
				em.Close(err)
				return
			}
			if !em.Send(ctx, chunk) {
				em.Close(ctx.Err())
				return
			}
		}
		em.Close(g.cfg.StreamErr)
	}()
	return stream, nil
}

var _ llm.Generator = (*Generator)(nil)
