package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/sapa/pkg/emotion"
	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/harunnryd/sapa/pkg/llm"
)

func TestGreetingEmittedExactlyOnce(t *testing.T) {
	tr := &fakeTranscriber{}
	synth := &fakeSynthesizer{}
	s := newTestSession(t, testConfig(), tr, &fakeGenerator{}, synth)

	for i := 0; i < 30; i++ {
		if err := s.HandleFrame(frame20ms(0)); err != nil {
			t.Fatalf("handle frame: %v", err)
		}
	}
	segs := collectSegments(t, s, 1, 300*time.Millisecond)
	if len(segs) != 1 {
		t.Fatalf("expected exactly one greeting, got %d", len(segs))
	}
	g := segs[0]
	if !g.Greeting || g.Seq != 0 || g.Turn != 0 || g.Index != 0 {
		t.Fatalf("unexpected greeting segment %+v", g)
	}
	if g.Profile != emotion.Neutral || g.Language != "zh" {
		t.Fatalf("greeting should use neutral zh, got %s %s", g.Profile, g.Language)
	}
	if n := len(synth.requests()); n != 1 {
		t.Fatalf("expected one synthesis call, got %d", n)
	}
	if !s.HasGreeted() {
		t.Fatalf("expected hasGreeted")
	}
}

func TestSilentFirstFrameGreetsWithoutTranscribing(t *testing.T) {
	tr := &fakeTranscriber{text: "unused"}
	s := newTestSession(t, testConfig(), tr, &fakeGenerator{}, &fakeSynthesizer{})

	if err := s.HandleFrame(frame20ms(0)); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
	segs := collectSegments(t, s, 1, 200*time.Millisecond)
	if len(segs) != 1 || !segs[0].Greeting {
		t.Fatalf("expected greeting only, got %+v", segs)
	}
	waitFor(t, "listening", func() bool { return s.State() == StateListening })
	if !s.HasGreeted() {
		t.Fatalf("expected hasGreeted after the greeting")
	}
	if tr.calls.Load() != 0 {
		t.Fatalf("silence must not be transcribed")
	}
}

func TestHappyReplyUsesHappyProfile(t *testing.T) {
	tr := &fakeTranscriber{text: "太好了", lang: "zh"}
	gen := &fakeGenerator{deltas: []string{"太好了", "！"}}
	synth := &fakeSynthesizer{}
	s := newTestSession(t, testConfig(), tr, gen, synth)

	speak(t, s, 10, 20)
	segs := collectSegments(t, s, 2, 400*time.Millisecond)
	if len(segs) != 2 {
		t.Fatalf("expected greeting and one reply segment, got %+v", segs)
	}
	reply := segs[1]
	if reply.Seq != 1 || reply.Turn != 1 || reply.Index != 0 || reply.Greeting {
		t.Fatalf("unexpected reply numbering %+v", reply)
	}
	if reply.Text != "太好了！" || reply.Profile != "happy" {
		t.Fatalf("expected happy 太好了！, got %q %q", reply.Text, reply.Profile)
	}
	var happy bool
	for _, req := range synth.requests() {
		if req.Text == "太好了！" {
			happy = req.Profile.Param(emotion.ParamSpeed, 0) == 1.1 && req.Profile.Param(emotion.ParamTemperature, 0) == 1.0
		}
	}
	if !happy {
		t.Fatalf("expected happy parameters on the synthesis request")
	}

	reqs := gen.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one generation, got %d", len(reqs))
	}
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	if last.Role != llm.RoleUser || last.Content != "太好了" || reqs[0].Language != "zh" {
		t.Fatalf("unexpected generation request %+v", reqs[0])
	}
	waitFor(t, "listening after turn", func() bool { return s.State() == StateListening })
}

func TestTranscriptionFailureReturnsToListening(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("upstream 500")}
	gen := &fakeGenerator{deltas: []string{"不應該出現。"}}
	s := newTestSession(t, testConfig(), tr, gen, &fakeSynthesizer{})

	done := make(chan struct{}, 8)
	s.AddListener(StateListenerFunc(func(ev StateChange) {
		if ev.FromState == StateTranscribing {
			done <- struct{}{}
		}
	}))

	speak(t, s, 10, 20)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("turn never left TRANSCRIBING")
	}
	if s.State() != StateListening {
		t.Fatalf("expected LISTENING, got %s", s.State())
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("generator must not run after a failed transcription")
	}
	segs := collectSegments(t, s, 1, 100*time.Millisecond)
	if len(segs) != 1 || !segs[0].Greeting {
		t.Fatalf("expected greeting only, got %+v", segs)
	}
}

func TestReplySegmentsAreOrderedAndSkipFailures(t *testing.T) {
	tr := &fakeTranscriber{text: "說三句話"}
	gen := &fakeGenerator{deltas: []string{"第一句話。第二", "句話。第三句話。"}}
	synth := &fakeSynthesizer{
		delays: map[string]time.Duration{"第一句話。": 60 * time.Millisecond},
		fail:   map[string]bool{"第二句話。": true},
	}
	cfg := testConfig()
	cfg.Synthesis.Concurrency = 3
	s := newTestSession(t, cfg, tr, gen, synth)

	speak(t, s, 10, 20)
	segs := collectSegments(t, s, 3, 400*time.Millisecond)
	if len(segs) != 3 {
		t.Fatalf("expected greeting plus two replies, got %+v", segs)
	}
	wantIdx := []int{0, 0, 2}
	for i, seg := range segs {
		if seg.Seq != int64(i) {
			t.Fatalf("segment %d has seq %d", i, seg.Seq)
		}
		if seg.Index != wantIdx[i] {
			t.Fatalf("segment %d has index %d, want %d", i, seg.Index, wantIdx[i])
		}
	}
}

func TestGenerationErrorKeepsSegmentedSentences(t *testing.T) {
	tr := &fakeTranscriber{text: "hi"}
	gen := &fakeGenerator{deltas: []string{"Hello there. And"}, streamErr: errors.New("connection reset")}
	s := newTestSession(t, testConfig(), tr, gen, &fakeSynthesizer{})

	speak(t, s, 10, 20)
	segs := collectSegments(t, s, 3, 400*time.Millisecond)
	if len(segs) != 3 || segs[1].Text != "Hello there." || segs[2].Text != "And" {
		t.Fatalf("expected truncated reply to keep its sentences, got %+v", segs)
	}
	waitFor(t, "listening", func() bool { return s.State() == StateListening })
}

func TestGreetingFailureIsNotRetried(t *testing.T) {
	tr := &fakeTranscriber{text: "在嗎"}
	gen := &fakeGenerator{deltas: []string{"我在。"}}
	synth := &fakeSynthesizer{fail: map[string]bool{"你好！": true}}
	s := newTestSession(t, testConfig(), tr, gen, synth)

	speak(t, s, 10, 20)
	segs := collectSegments(t, s, 1, 400*time.Millisecond)
	if len(segs) != 1 || segs[0].Greeting || segs[0].Seq != 1 {
		t.Fatalf("expected only the reply with seq 1, got %+v", segs)
	}
	if !s.HasGreeted() {
		t.Fatalf("a failed greeting still counts as greeted")
	}
	greetings := 0
	for _, req := range synth.requests() {
		if req.Text == "你好！" {
			greetings++
		}
	}
	if greetings != 1 {
		t.Fatalf("greeting synthesized %d times", greetings)
	}
}

func TestCloseCancelsInFlightGeneration(t *testing.T) {
	tr := &fakeTranscriber{text: "講個很長的故事"}
	gen := &fakeGenerator{block: true}
	s := newTestSession(t, testConfig(), tr, gen, &fakeSynthesizer{})

	speak(t, s, 10, 20)
	waitFor(t, "generating", func() bool { return s.State() == StateGenerating })
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", s.State())
	}
	waitFor(t, "generator cancelled", gen.cancelled.Load)
	for range s.Segments() {
	}
	if err := s.HandleFrame(frame20ms(0)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFullQueueDropsFrames(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	s, err := New(cfg, Deps{
		Transcriber: &fakeTranscriber{},
		Generator:   &fakeGenerator{},
		Synthesizer: &fakeSynthesizer{},
		Resolver:    testResolver(t),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()
	if err := s.HandleFrame(frame20ms(0)); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	err = s.HandleFrame(frame20ms(0))
	if !errorsx.HasReason(err, errorsx.ReasonOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if s.Dropped() != 1 {
		t.Fatalf("expected one dropped frame, got %d", s.Dropped())
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	if !errorsx.HasReason(err, errorsx.ReasonConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewRequiresGreetingText(t *testing.T) {
	cfg := testConfig()
	cfg.GreetingText = " "
	_, err := New(cfg, Deps{
		Transcriber: &fakeTranscriber{},
		Generator:   &fakeGenerator{},
		Synthesizer: &fakeSynthesizer{},
		Resolver:    testResolver(t),
	})
	if !errorsx.HasReason(err, errorsx.ReasonConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSlowGreetingStillPrecedesReply(t *testing.T) {
	tr := &fakeTranscriber{text: "hello"}
	gen := &fakeGenerator{deltas: []string{"Reply one."}}
	synth := &fakeSynthesizer{delays: map[string]time.Duration{"你好！": 300 * time.Millisecond}}
	s := newTestSession(t, testConfig(), tr, gen, synth)

	speak(t, s, 10, 20)
	segs := collectSegments(t, s, 2, 600*time.Millisecond)
	if len(segs) != 2 {
		t.Fatalf("expected greeting and reply, got %+v", segs)
	}
	if !segs[0].Greeting || segs[0].Seq != 0 {
		t.Fatalf("expected greeting first at seq 0, got %+v", segs[0])
	}
	if segs[1].Greeting || segs[1].Seq != 1 || segs[1].Text != "Reply one." {
		t.Fatalf("expected reply at seq 1, got %+v", segs[1])
	}
	if gen.calls.Load() != 1 {
		t.Fatalf("expected the reply to be generated while the greeting synthesized")
	}
}

func TestStartAfterCloseFails(t *testing.T) {
	s, err := New(testConfig(), Deps{
		Transcriber: &fakeTranscriber{},
		Generator:   &fakeGenerator{},
		Synthesizer: &fakeSynthesizer{},
		Resolver:    testResolver(t),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = s.Close()
	if err := s.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, ok := <-s.Segments(); ok {
		t.Fatalf("expected closed segment stream")
	}
}

func TestConcurrentStartAndClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		s, err := New(testConfig(), Deps{
			Transcriber: &fakeTranscriber{},
			Generator:   &fakeGenerator{},
			Synthesizer: &fakeSynthesizer{},
			Resolver:    testResolver(t),
		})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = s.Start(context.Background())
		}()
		_ = s.Close()
		<-done
		if s.State() != StateClosed {
			t.Fatalf("expected CLOSED, got %s", s.State())
		}
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := &Session{cfg: Config{MaxHistory: 3, SystemPrompt: "be brief"}}
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		s.remember(llm.Message{Role: llm.RoleUser, Content: text})
	}
	msgs := s.messages()
	if len(msgs) != 4 || msgs[0].Role != llm.RoleSystem || msgs[1].Content != "c" || msgs[3].Content != "e" {
		t.Fatalf("unexpected history %+v", msgs)
	}
}

func TestRegistryCreatesOncePerStream(t *testing.T) {
	created := 0
	reg := NewRegistry(func(streamID, callSID, traceID string) (*Session, error) {
		created++
		cfg := testConfig()
		cfg.StreamID = streamID
		return New(cfg, Deps{
			Transcriber: &fakeTranscriber{},
			Generator:   &fakeGenerator{},
			Synthesizer: &fakeSynthesizer{},
			Resolver:    testResolver(t),
		})
	})
	ctx := context.Background()
	first, isNew, err := reg.GetOrCreate(ctx, "s-1", "c-1", "")
	if err != nil || !isNew {
		t.Fatalf("expected new session, got %v %v", isNew, err)
	}
	again, isNew, _ := reg.GetOrCreate(ctx, "s-1", "c-1", "")
	if isNew || again != first || created != 1 {
		t.Fatalf("expected the existing session to be reused")
	}
	if reg.Count() != 1 {
		t.Fatalf("expected count 1, got %d", reg.Count())
	}
	reg.Remove("s-1")
	if first.State() != StateClosed || reg.Count() != 0 {
		t.Fatalf("remove must close the session")
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if !reg.WaitForEmpty(waitCtx, 10*time.Millisecond) {
		t.Fatalf("expected empty registry")
	}
}
