// Package session runs one conversation: it listens for utterances,
// transcribes them, streams a spoken reply, and greets the caller exactly
// once on the first audio frame.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/sapa/pkg/adapters/stt"
	"github.com/harunnryd/sapa/pkg/adapters/tts"
	"github.com/harunnryd/sapa/pkg/emotion"
	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/harunnryd/sapa/pkg/frames"
	"github.com/harunnryd/sapa/pkg/llm"
	"github.com/harunnryd/sapa/pkg/logging"
	"github.com/harunnryd/sapa/pkg/metrics"
	"github.com/harunnryd/sapa/pkg/segmenter"
	"github.com/harunnryd/sapa/pkg/synthesis"
	"github.com/harunnryd/sapa/pkg/vad"
)

// ErrClosed is returned by HandleFrame after Close.
var ErrClosed = errors.New("session closed")

type Config struct {
	StreamID string
	CallSID  string
	TraceID  string

	GreetingText     string
	GreetingLanguage string
	GreetingProfile  string
	// Language is used for replies when the transcriber detects none.
	Language     string
	SystemPrompt string
	MaxHistory   int

	QueueSize    int
	OutputBuffer int

	VAD       vad.Config
	Segmenter segmenter.Options
	Synthesis synthesis.Config

	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	GreetingTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.GreetingLanguage == "" {
		c.GreetingLanguage = "zh"
	}
	if c.GreetingProfile == "" {
		c.GreetingProfile = emotion.Neutral
	}
	if c.Language == "" {
		c.Language = c.GreetingLanguage
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 12
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.OutputBuffer <= 0 {
		c.OutputBuffer = 32
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 15 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 60 * time.Second
	}
	if c.GreetingTimeout <= 0 {
		c.GreetingTimeout = 20 * time.Second
	}
	return c
}

type Deps struct {
	Transcriber stt.Transcriber
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
	Resolver    *emotion.Resolver
	Logger      *slog.Logger
	Observer    metrics.Observer
	// Redact scrubs user and model text before it is logged.
	Redact func(string) string
}

type eventKind int

const (
	evGreetingDone eventKind = iota
	evTranscribed
	evFirstSegment
	evTurnDone
)

type event struct {
	kind   eventKind
	turn   int
	result stt.Result
	reply  string
	err    error
}

type Session struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	obs      metrics.Observer
	fsm      *stateMachine
	greeting *GreetingInjector
	segs     *segmenter.Segmenter
	speech   *synthesis.Pipeline
	greeter  *synthesis.Pipeline

	queue  chan frames.AudioFrame
	events chan event
	out    chan frames.AudioSegment

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	life    sync.Mutex
	started atomic.Bool
	closed  atomic.Bool
	once    sync.Once
	dropped atomic.Uint64
	seq     atomic.Int64

	// owned by the worker goroutine
	detector  *vad.Detector
	pending   *vad.Utterance
	turn      int
	turnStart time.Time
	history   []llm.Message
}

func New(cfg Config, deps Deps) (*Session, error) {
	switch {
	case deps.Transcriber == nil:
		return nil, errorsx.Configuration(errors.New("session: transcriber is required"))
	case deps.Generator == nil:
		return nil, errorsx.Configuration(errors.New("session: generator is required"))
	case deps.Synthesizer == nil:
		return nil, errorsx.Configuration(errors.New("session: synthesizer is required"))
	case deps.Resolver == nil:
		return nil, errorsx.Configuration(errors.New("session: emotion resolver is required"))
	case strings.TrimSpace(cfg.GreetingText) == "":
		return nil, errorsx.Configuration(errors.New("session: greeting text is required"))
	}
	cfg = cfg.withDefaults()
	if deps.Redact == nil {
		deps.Redact = func(s string) string { return s }
	}
	obs := metrics.OrNoop(deps.Observer)
	logger := logging.NewComponentLogger(deps.Logger, "session").With(
		slog.String("stream_id", cfg.StreamID),
		slog.String("call_sid", cfg.CallSID),
		slog.String("trace_id", cfg.TraceID),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		obs:      obs,
		fsm:      newStateMachine(cfg.StreamID),
		greeting: NewGreetingInjector(),
		segs:     segmenter.New(cfg.Segmenter),
		queue:    make(chan frames.AudioFrame, cfg.QueueSize),
		events:   make(chan event, 4),
		out:      make(chan frames.AudioSegment, cfg.OutputBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	synthCfg := cfg.Synthesis
	synthCfg.Tags = s.tags()
	s.speech = synthesis.New(synthCfg, deps.Synthesizer, deps.Logger, obs)
	greetCfg := synthCfg
	greetCfg.Concurrency = 1
	greetCfg.Timeout = cfg.GreetingTimeout
	greetCfg.Retries = 0
	s.greeter = synthesis.New(greetCfg, deps.Synthesizer, deps.Logger, obs)

	vadCfg := cfg.VAD
	userOverflow := vadCfg.OnOverflow
	vadCfg.OnOverflow = func(dropped uint64) {
		s.logger.Debug("pre_speech_overflow",
			slog.String("reason", string(errorsx.ReasonOverflow)),
			slog.Uint64("dropped", dropped),
		)
		metrics.Emit(s.obs, metrics.EventVADOverflow, 1, s.tags())
		if userOverflow != nil {
			userOverflow(dropped)
		}
	}
	s.detector = vad.New(vadCfg)
	s.seq.Store(1)
	return s, nil
}

func (s *Session) ID() string { return s.cfg.StreamID }

func (s *Session) CallSID() string { return s.cfg.CallSID }

func (s *Session) State() State { return s.fsm.State() }

func (s *Session) HasGreeted() bool { return s.greeting.HasGreeted() }

// Dropped counts frames rejected because the inbound queue was full.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

func (s *Session) AddListener(l StateListener) { s.fsm.AddListener(l) }

// Segments yields synthesized audio in Seq order. It is closed after Close.
func (s *Session) Segments() <-chan frames.AudioSegment { return s.out }

// Start launches the worker. The session also closes its work when ctx
// ends, but the caller still owns Close.
func (s *Session) Start(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}
	if ctx != nil {
		context.AfterFunc(ctx, s.cancel)
	}
	metrics.Emit(s.obs, metrics.EventSessionStart, 1, s.tags())
	s.logger.Info("session_started")
	s.wg.Add(1)
	go s.run()
	return nil
}

// HandleFrame enqueues a frame without blocking. A full queue drops the
// frame and reports an overflow.
func (s *Session) HandleFrame(f frames.AudioFrame) error {
	if s.closed.Load() {
		return ErrClosed
	}
	select {
	case s.queue <- f:
		return nil
	default:
		n := s.dropped.Add(1)
		metrics.Emit(s.obs, metrics.EventFrameDropped, 1, s.tags())
		return errorsx.Errorf(errorsx.ReasonOverflow, "inbound queue full, %d frames dropped", n)
	}
}

// Close cancels all outstanding work, releases buffered audio and closes
// the segment stream. It is safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		// Start holds life across wg.Add, so no Add can follow this point.
		s.life.Lock()
		s.closed.Store(true)
		s.life.Unlock()
		s.cancel()
		s.wg.Wait()
		if err := s.fsm.Transition(StateClosed, "closed"); err != nil {
			s.logger.Debug("close_transition", slog.String("error", err.Error()))
		}
		s.detector.Reset()
		s.pending = nil
		s.history = nil
		close(s.out)
		if s.started.Load() {
			metrics.Emit(s.obs, metrics.EventSessionEnd, 1, s.tags())
		}
		s.logger.Info("session_closed", slog.Uint64("frames_dropped", s.dropped.Load()))
	})
	return nil
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.queue:
			s.onFrame(f)
		case ev := <-s.events:
			s.onEvent(ev)
		}
	}
}

func (s *Session) onFrame(f frames.AudioFrame) {
	if s.greeting.Fire() {
		s.startGreeting()
	}
	switch s.detector.Process(f) {
	case vad.EventSpeechStart:
		metrics.Emit(s.obs, metrics.EventSpeechStart, 1, s.tags())
		s.logger.Debug("speech_start", slog.String("state", s.State().String()))
	case vad.EventSpeechEnd:
		utt, ok := s.detector.Utterance()
		if !ok {
			return
		}
		metrics.Emit(s.obs, metrics.EventSpeechEnd, float64(utt.Duration.Milliseconds()), s.tags())
		s.logger.Debug("speech_end", slog.Duration("duration", utt.Duration))
		if s.State() == StateListening {
			s.startTurn(utt)
			return
		}
		if s.pending != nil {
			s.logger.Debug("pending_utterance_replaced")
		}
		s.pending = &utt
	}
}

func (s *Session) onEvent(ev event) {
	switch ev.kind {
	case evGreetingDone:
		s.transition(StateListening, "greeting resolved")
		s.drainPending()
	case evTranscribed:
		if ev.turn != s.turn {
			return
		}
		s.onTranscript(ev)
	case evFirstSegment:
		if ev.turn == s.turn && s.State() == StateGenerating {
			s.transition(StateSpeaking, "first segment")
		}
	case evTurnDone:
		if ev.turn != s.turn {
			return
		}
		if ev.err != nil {
			metrics.Emit(s.obs, metrics.EventGenerationError, 1, s.tags())
			s.logger.Warn("generation_failed",
				slog.Int("turn", ev.turn),
				slog.String("reason", string(errorsx.Reason(ev.err))),
				slog.String("error", ev.err.Error()),
			)
		}
		if strings.TrimSpace(ev.reply) != "" {
			s.remember(llm.Message{Role: llm.RoleAssistant, Content: ev.reply})
			s.logger.Info("reply", slog.Int("turn", ev.turn), slog.String("text", s.deps.Redact(ev.reply)))
		}
		metrics.Emit(s.obs, metrics.EventTurnComplete, float64(time.Since(s.turnStart).Milliseconds()), s.tags())
		s.transition(StateListening, "turn complete")
		s.drainPending()
	}
}

func (s *Session) onTranscript(ev event) {
	if ev.err != nil {
		metrics.Emit(s.obs, metrics.EventTranscribeError, 1, s.tags())
		s.logger.Warn("transcription_failed",
			slog.Int("turn", ev.turn),
			slog.String("reason", string(errorsx.Reason(ev.err))),
			slog.String("error", ev.err.Error()),
		)
		s.transition(StateListening, "transcription failed")
		s.drainPending()
		return
	}
	text := strings.TrimSpace(ev.result.Text)
	if text == "" {
		s.logger.Debug("empty_transcript", slog.Int("turn", ev.turn))
		s.transition(StateListening, "empty transcript")
		s.drainPending()
		return
	}
	lang := ev.result.Language
	if lang == "" {
		lang = s.cfg.Language
	}
	metrics.Emit(s.obs, metrics.EventTranscript, float64(time.Since(s.turnStart).Milliseconds()), s.tags())
	s.logger.Info("transcript",
		slog.Int("turn", ev.turn),
		slog.String("language", lang),
		slog.String("text", s.deps.Redact(text)),
	)
	s.remember(llm.Message{Role: llm.RoleUser, Content: text})
	req := llm.Request{Messages: s.messages(), Language: lang}
	s.transition(StateGenerating, "transcript ready")
	s.wg.Add(1)
	go s.respond(ev.turn, req, s.turnStart)
}

func (s *Session) startGreeting() {
	s.transition(StateGreeting, "first frame")
	s.wg.Add(1)
	go s.runGreeting()
}

func (s *Session) runGreeting() {
	defer s.wg.Done()
	defer s.notify(event{kind: evGreetingDone})
	defer s.greeting.Resolve()

	profile := s.deps.Resolver.Resolve("", s.cfg.GreetingProfile)
	jobs := make(chan synthesis.Job, 1)
	jobs <- synthesis.Job{Index: 0, Text: s.cfg.GreetingText, Profile: profile, Language: s.cfg.GreetingLanguage}
	close(jobs)
	r, ok := <-s.greeter.Run(s.ctx, jobs)
	if !ok {
		return
	}
	if r.Skipped() {
		s.logger.Warn("greeting_failed",
			slog.String("reason", string(errorsx.Reason(r.Err))),
			slog.String("error", r.Err.Error()),
		)
		return
	}
	if s.emit(frames.AudioSegment{
		StreamID:   s.cfg.StreamID,
		Seq:        0,
		Text:       r.Text,
		Profile:    profile.Name,
		Language:   r.Language,
		SampleRate: r.Audio.SampleRate,
		Audio:      r.Audio.PCM,
		Greeting:   true,
	}) {
		metrics.Emit(s.obs, metrics.EventGreeting, float64(r.Latency.Milliseconds()), s.tags())
		s.logger.Info("greeting_sent", slog.Duration("latency", r.Latency))
	}
}

func (s *Session) startTurn(utt vad.Utterance) {
	s.turn++
	s.turnStart = time.Now()
	s.transition(StateTranscribing, "speech end")
	s.wg.Add(1)
	go s.transcribe(s.turn, utt)
}

func (s *Session) drainPending() {
	if s.pending == nil || s.State() != StateListening {
		return
	}
	utt := *s.pending
	s.pending = nil
	s.startTurn(utt)
}

func (s *Session) transcribe(turn int, utt vad.Utterance) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.TranscribeTimeout)
	defer cancel()
	res, err := s.deps.Transcriber.Transcribe(ctx, utt)
	s.notify(event{kind: evTranscribed, turn: turn, result: res, err: errorsx.Transcription(err)})
}

// respond streams one reply: deltas are segmented, every sentence is
// resolved to a voice profile and synthesized while later sentences are
// still generating.
func (s *Session) respond(turn int, req llm.Request, speechEnd time.Time) {
	defer s.wg.Done()
	genCtx, cancel := context.WithTimeout(s.ctx, s.cfg.GenerateTimeout)
	defer cancel()

	started := time.Now()
	stream, err := s.deps.Generator.Generate(genCtx, req)
	if err != nil {
		s.notify(event{kind: evTurnDone, turn: turn, err: errorsx.Generation(err)})
		return
	}

	tap := make(chan frames.TextDelta)
	go func() {
		defer close(tap)
		first := true
		for d := range stream.Deltas {
			if first {
				first = false
				metrics.Emit(s.obs, metrics.EventFirstToken, float64(time.Since(started).Milliseconds()), s.tags())
			}
			select {
			case tap <- d:
			case <-s.ctx.Done():
				return
			}
		}
	}()

	sentences := s.segs.Run(s.ctx, tap)
	jobs := make(chan synthesis.Job)
	var reply strings.Builder
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		defer close(jobs)
		for sentence := range sentences {
			text, override := emotion.ExtractOverride(sentence.Text)
			if strings.TrimSpace(text) == "" {
				continue
			}
			reply.WriteString(text)
			profile := s.deps.Resolver.Resolve(text, override)
			job := synthesis.Job{Index: sentence.Index, Text: text, Profile: profile, Language: req.Language}
			select {
			case jobs <- job:
			case <-s.ctx.Done():
				return
			}
		}
	}()

	first := true
	for r := range s.speech.Run(s.ctx, jobs) {
		if r.Skipped() {
			continue
		}
		if first {
			select {
			case <-s.greeting.Resolved():
			case <-s.ctx.Done():
				return
			}
		}
		seg := frames.AudioSegment{
			StreamID:   s.cfg.StreamID,
			Seq:        s.seq.Add(1) - 1,
			Turn:       turn,
			Index:      r.Index,
			Text:       r.Text,
			Profile:    r.Profile.Name,
			Language:   r.Language,
			SampleRate: r.Audio.SampleRate,
			Audio:      r.Audio.PCM,
		}
		if !s.emit(seg) {
			return
		}
		if first {
			first = false
			metrics.Emit(s.obs, metrics.EventFirstSegment, float64(time.Since(speechEnd).Milliseconds()), s.tags())
			s.notify(event{kind: evFirstSegment, turn: turn})
		}
	}
	<-produced

	var genErr error
	if stream.Err != nil {
		genErr = stream.Err()
	}
	s.notify(event{kind: evTurnDone, turn: turn, reply: reply.String(), err: errorsx.Generation(genErr)})
}

func (s *Session) emit(seg frames.AudioSegment) bool {
	select {
	case s.out <- seg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) notify(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) transition(to State, reason string) {
	from := s.State()
	if err := s.fsm.Transition(to, reason); err != nil {
		s.logger.Error("invalid_transition", slog.String("error", err.Error()))
		return
	}
	metrics.Emit(s.obs, metrics.EventStateChange, 1, map[string]string{
		metrics.TagStreamID:  s.cfg.StreamID,
		metrics.TagComponent: "session",
		metrics.TagState:     to.String(),
	})
	s.logger.Debug("state_change", slog.String("from", from.String()), slog.String("to", to.String()), slog.String("reason", reason))
}

func (s *Session) remember(m llm.Message) {
	s.history = append(s.history, m)
	if over := len(s.history) - s.cfg.MaxHistory; over > 0 {
		s.history = append([]llm.Message(nil), s.history[over:]...)
	}
}

func (s *Session) messages() []llm.Message {
	out := make([]llm.Message, 0, len(s.history)+1)
	if strings.TrimSpace(s.cfg.SystemPrompt) != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: s.cfg.SystemPrompt})
	}
	return append(out, s.history...)
}

func (s *Session) tags() map[string]string {
	return map[string]string{metrics.TagStreamID: s.cfg.StreamID}
}
