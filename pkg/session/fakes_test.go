package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/sapa/pkg/adapters/stt"
	"github.com/harunnryd/sapa/pkg/adapters/tts"
	"github.com/harunnryd/sapa/pkg/audio"
	"github.com/harunnryd/sapa/pkg/emotion"
	"github.com/harunnryd/sapa/pkg/frames"
	"github.com/harunnryd/sapa/pkg/llm"
	"github.com/harunnryd/sapa/pkg/vad"
)

const testRate = 16000

type fakeTranscriber struct {
	text  string
	lang  string
	err   error
	calls atomic.Int32
}

func (f *fakeTranscriber) Name() string { return "fake-stt" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, utt vad.Utterance) (stt.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return stt.Result{}, f.err
	}
	return stt.Result{Text: f.text, Language: f.lang}, nil
}

type fakeGenerator struct {
	deltas    []string
	setupErr  error
	streamErr error
	block     bool
	cancelled atomic.Bool
	calls     atomic.Int32
	mu        sync.Mutex
	reqs      []llm.Request
}

func (f *fakeGenerator) Name() string { return "fake-llm" }

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request) (llm.Stream, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.setupErr != nil {
		return llm.Stream{}, f.setupErr
	}
	stream, em := llm.Pipe(0)
	go func() {
		for _, d := range f.deltas {
			if !em.Send(ctx, d) {
				em.Close(ctx.Err())
				return
			}
		}
		if f.block {
			<-ctx.Done()
			f.cancelled.Store(true)
			em.Close(ctx.Err())
			return
		}
		em.Close(f.streamErr)
	}()
	return stream, nil
}

func (f *fakeGenerator) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.reqs...)
}

type fakeSynthesizer struct {
	fail   map[string]bool
	delays map[string]time.Duration
	mu     sync.Mutex
	reqs   []tts.Request
}

func (f *fakeSynthesizer) Name() string { return "fake-tts" }

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if d := f.delays[req.Text]; d > 0 {
		select {
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		case <-time.After(d):
		}
	}
	if f.fail[req.Text] {
		return tts.Audio{}, errors.New("voice unavailable")
	}
	return tts.Audio{PCM: []byte(req.Text), SampleRate: 24000}, nil
}

func (f *fakeSynthesizer) requests() []tts.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.Request(nil), f.reqs...)
}

func testResolver(t *testing.T) *emotion.Resolver {
	t.Helper()
	table, err := emotion.LoadTable("", emotion.DefaultPresets(), "")
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	return emotion.NewResolver(table, emotion.NewKeywordClassifier(emotion.DefaultKeywordRules()))
}

func testConfig() Config {
	return Config{
		StreamID:     "stream-1",
		CallSID:      "call-1",
		GreetingText: "你好！",
		VAD:          vad.Config{PauseThreshold: 100 * time.Millisecond},
	}
}

func newTestSession(t *testing.T, cfg Config, tr *fakeTranscriber, gen *fakeGenerator, synth *fakeSynthesizer) *Session {
	t.Helper()
	s, err := New(cfg, Deps{Transcriber: tr, Generator: gen, Synthesizer: synth, Resolver: testResolver(t)})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// frame20ms returns 20ms of mono PCM16; amplitude zero is silence.
func frame20ms(amplitude float64) frames.AudioFrame {
	n := testRate / 50
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	return frames.NewAudioFrame("stream-1", 0, audio.SamplesToBytes(samples), testRate, 1, nil)
}

func speak(t *testing.T, s *Session, loud, quiet int) {
	t.Helper()
	for i := 0; i < loud; i++ {
		if err := s.HandleFrame(frame20ms(12000)); err != nil {
			t.Fatalf("handle loud frame: %v", err)
		}
	}
	for i := 0; i < quiet; i++ {
		if err := s.HandleFrame(frame20ms(0)); err != nil {
			t.Fatalf("handle quiet frame: %v", err)
		}
	}
}

func collectSegments(t *testing.T, s *Session, want int, idle time.Duration) []frames.AudioSegment {
	t.Helper()
	var got []frames.AudioSegment
	for {
		select {
		case seg, ok := <-s.Segments():
			if !ok {
				return got
			}
			got = append(got, seg)
			if want > 0 && len(got) > want {
				t.Fatalf("expected %d segments, got more: %+v", want, got)
			}
		case <-time.After(idle):
			return got
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
