// Package segmenter turns a stream of generated text fragments into
// complete sentences as soon as their boundaries are known.
package segmenter

import (
	"context"
	"strings"
	"unicode"

	"github.com/harunnryd/sapa/pkg/frames"
)

type Options struct {
	// MinRunes merges candidate sentences with fewer non-space runes into
	// the text that follows. Zero disables merging.
	MinRunes int
}

type Segmenter struct {
	opts Options
}

func New(opts Options) *Segmenter {
	if opts.MinRunes < 0 {
		opts.MinRunes = 0
	}
	return &Segmenter{opts: opts}
}

// Run yields sentences in generation order. The output closes once in
// closes and the remainder is flushed, or when ctx ends.
func (s *Segmenter) Run(ctx context.Context, in <-chan frames.TextDelta) <-chan frames.Sentence {
	out := make(chan frames.Sentence)
	go func() {
		defer close(out)
		sp := &splitter{opts: s.opts}
		send := func(batch []frames.Sentence) bool {
			for _, sentence := range batch {
				select {
				case <-ctx.Done():
					return false
				case out <- sentence:
				}
			}
			return true
		}
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-in:
				if !ok {
					send(sp.flush())
					return
				}
				if !send(sp.push(d.Text)) {
					return
				}
			}
		}
	}()
	return out
}

// Split segments a finite list of fragments synchronously.
func (s *Segmenter) Split(deltas []string) []frames.Sentence {
	sp := &splitter{opts: s.opts}
	var out []frames.Sentence
	for _, d := range deltas {
		out = append(out, sp.push(d)...)
	}
	return append(out, sp.flush()...)
}

type splitter struct {
	opts  Options
	buf   []rune
	index int
}

func (sp *splitter) push(text string) []frames.Sentence {
	if text == "" {
		return nil
	}
	sp.buf = append(sp.buf, []rune(text)...)
	return sp.extract(false)
}

func (sp *splitter) flush() []frames.Sentence {
	out := sp.extract(true)
	if rest := strings.TrimSpace(string(sp.buf)); rest != "" {
		out = append(out, frames.Sentence{Index: sp.index, Text: rest})
		sp.index++
	}
	sp.buf = nil
	return out
}

func (sp *splitter) extract(final bool) []frames.Sentence {
	var out []frames.Sentence
	from := 0
	for {
		end := sp.boundary(from, final)
		if end < 0 {
			return out
		}
		candidate := string(sp.buf[:end])
		if sp.opts.MinRunes > 0 && visibleRunes(candidate) < sp.opts.MinRunes {
			from = end
			continue
		}
		sp.buf = append([]rune(nil), sp.buf[end:]...)
		from = 0
		if text := strings.TrimSpace(candidate); text != "" {
			out = append(out, frames.Sentence{Index: sp.index, Text: text})
			sp.index++
		}
	}
}

// boundary returns the index just past the next sentence end at or after
// from, or -1. A run of markers and closing brackets ends together. When the
// run reaches the end of the buffer the follower is unknown, so the boundary
// is held until more text arrives or the stream ends.
func (sp *splitter) boundary(from int, final bool) int {
	buf := sp.buf
	for i := from; i < len(buf); i++ {
		if !isTerminal(buf[i]) {
			continue
		}
		j := i + 1
		for j < len(buf) && (isTerminal(buf[j]) || isCloser(buf[j])) {
			j++
		}
		if j == len(buf) {
			if final {
				return j
			}
			return -1
		}
		if buf[j-1] != '\n' && buf[j] >= '0' && buf[j] <= '9' {
			i = j - 1
			continue
		}
		return j
	}
	return -1
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', ';', '\n', '。', '！', '？', '；':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '」', '』', '）', '】', '”', '’':
		return true
	}
	return false
}

func visibleRunes(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Split is shorthand for New(opts).Split(deltas).
func Split(deltas []string, opts Options) []frames.Sentence {
	return New(opts).Split(deltas)
}
