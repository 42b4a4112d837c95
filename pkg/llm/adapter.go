package llm

import (
	"context"
	"sync"

	"github.com/harunnryd/sapa/pkg/frames"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Request is the conversation so far. Language is the detected language of
// the latest user turn and may be empty.
type Request struct {
	Messages []Message
	Language string
}

// Stream delivers text deltas in generation order. Err is valid once Deltas
// is closed.
type Stream struct {
	Deltas <-chan frames.TextDelta
	Err    func() error
}

// Generator defines the contract for any LLM vendor implementation.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (Stream, error)
}

// Emitter is the producing side of a Stream.
type Emitter struct {
	ch   chan frames.TextDelta
	seq  int64
	once sync.Once
	mu   sync.Mutex
	err  error
}

// Pipe returns a connected Stream and Emitter.
func Pipe(buffer int) (Stream, *Emitter) {
	e := &Emitter{ch: make(chan frames.TextDelta, buffer)}
	return Stream{Deltas: e.ch, Err: e.Err}, e
}

// Send blocks until the delta is accepted or ctx ends. Empty text is
// skipped.
func (e *Emitter) Send(ctx context.Context, text string) bool {
	if text == "" {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case e.ch <- frames.TextDelta{Seq: e.seq, Text: text}:
		e.seq++
		return true
	}
}

// Close ends the stream with err, which may be nil.
func (e *Emitter) Close(err error) {
	e.once.Do(func() {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		close(e.ch)
	})
}

func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Collect drains a stream into a single string.
func Collect(ctx context.Context, s Stream) (string, error) {
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return string(out), ctx.Err()
		case d, ok := <-s.Deltas:
			if !ok {
				if s.Err != nil {
					return string(out), s.Err()
				}
				return string(out), nil
			}
			out = append(out, d.Text...)
		}
	}
}
