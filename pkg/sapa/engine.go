package sapa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/sapa/pkg/adapters/stt"
	"github.com/harunnryd/sapa/pkg/adapters/tts"
	"github.com/harunnryd/sapa/pkg/configutil"
	"github.com/harunnryd/sapa/pkg/emotion"
	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/harunnryd/sapa/pkg/frames"
	"github.com/harunnryd/sapa/pkg/llm"
	"github.com/harunnryd/sapa/pkg/logging"
	"github.com/harunnryd/sapa/pkg/metrics"
	"github.com/harunnryd/sapa/pkg/observers"
	"github.com/harunnryd/sapa/pkg/redact"
	"github.com/harunnryd/sapa/pkg/resilience"
	"github.com/harunnryd/sapa/pkg/runner"
	"github.com/harunnryd/sapa/pkg/segmenter"
	"github.com/harunnryd/sapa/pkg/session"
	"github.com/harunnryd/sapa/pkg/synthesis"
	"github.com/harunnryd/sapa/pkg/transports"
	"github.com/harunnryd/sapa/pkg/vad"
)

type EngineOptions struct {
	Config Config
	// Providers defaults to DefaultProviders().
	Providers *ProviderRegistry
	// Transport defaults to the one named by transports.provider.
	Transport transports.Transport
	// Observer receives every metrics event next to the built-in observers.
	Observer metrics.Observer
	// Classifier overrides the keyword classifier built from config.
	Classifier emotion.Classifier
	Logger     *slog.Logger
	// Banner receives the start banner. Nil prints none.
	Banner       io.Writer
	DrainTimeout time.Duration
}

type Engine struct {
	cfg        Config
	base       *slog.Logger
	logger     *slog.Logger
	providers  *ProviderRegistry
	transport  transports.Transport
	registry   *session.Registry
	dispatcher *SegmentDispatcher
	runner     *runner.LifecycleRunner
	asyncObs   *metrics.AsyncObserver
	prom       *metrics.PrometheusObserver
	latency    *observers.LatencyObserver
	resolver   *emotion.Resolver

	transcriber stt.Transcriber
	generator   llm.Generator
	synthesizer tts.Synthesizer
	synthBreak  *resilience.CircuitBreaker

	metricsSrv *http.Server
	pumps      sync.WaitGroup
	started    bool
	mu         sync.Mutex
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	}
	base := logger
	logger = logging.NewComponentLogger(base, "engine")
	redact.SetEnabled(cfg.Privacy.RedactPII)

	table, err := emotion.LoadTable(cfg.Emotion.Dir, presetsOrDefault(cfg.Emotion.Presets), cfg.Emotion.DefaultReference)
	if err != nil {
		return nil, errorsx.Configuration(fmt.Errorf("emotion table: %w", err))
	}
	classifier := opts.Classifier
	if classifier == nil {
		rules := emotion.DefaultKeywordRules()
		if len(cfg.Emotion.Keywords) > 0 {
			rules = emotion.RulesFromMap(cfg.Emotion.Keywords)
		}
		classifier = emotion.NewKeywordClassifier(rules)
	}
	if _, ok := table.Lookup(cfg.Greeting.Profile); !ok && cfg.Greeting.Profile != "" {
		return nil, errorsx.Configuration(fmt.Errorf("greeting.profile %q is not a known emotion profile (known: %s)",
			cfg.Greeting.Profile, strings.Join(table.Names(), ", ")))
	}

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}
	transcriber, err := providers.BuildTranscriber(cfg)
	if err != nil {
		return nil, err
	}
	generator, err := providers.BuildGenerator(cfg)
	if err != nil {
		return nil, err
	}
	synthesizer, err := providers.BuildSynthesizer(cfg)
	if err != nil {
		return nil, err
	}
	transport := opts.Transport
	if transport == nil {
		if transport, err = providers.BuildTransport(cfg); err != nil {
			return nil, err
		}
	}

	prom := metrics.NewPrometheusObserver()
	latency := observers.NewLatencyObserver(logging.NewComponentLogger(base, "latency"))
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(
		prom,
		latency,
		observers.NewLoggerObserver(logging.NewComponentLogger(base, "metrics")),
		opts.Observer,
	), 2048)

	breakerGen := llm.NewCircuitBreakerGenerator(generator, resilience.NewCircuitBreaker(3, 30*time.Second))
	breakerGen.SetObserver(asyncObs)

	e := &Engine{
		cfg:         cfg,
		base:        base,
		logger:      logger,
		providers:   providers,
		transport:   transport,
		asyncObs:    asyncObs,
		prom:        prom,
		latency:     latency,
		resolver:    emotion.NewResolver(table, classifier),
		transcriber: transcriber,
		generator:   breakerGen,
		synthesizer: synthesizer,
		synthBreak:  resilience.NewCircuitBreaker(3, 30*time.Second),
	}
	e.dispatcher = NewSegmentDispatcher(transport, logging.NewComponentLogger(base, "dispatcher"), asyncObs)
	e.registry = session.NewRegistry(e.newSession)
	e.mountMetrics()

	drainTimeout := opts.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	e.runner = runner.NewLifecycleRunner(runner.Options{
		Drainer:      runner.DrainerFunc(e.drain),
		DrainTimeout: drainTimeout,
		Banner:       opts.Banner,
		Hooks: runner.Hooks{
			OnStart: e.onStart,
			OnStop: func() {
				asyncObs.Close()
				logger.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", e.registry.Count())
			},
		},
	})

	logger.Info("sapa_init",
		"environment", cfg.Environment,
		"stt_provider", transcriber.Name(),
		"llm_provider", generator.Name(),
		"tts_provider", synthesizer.Name(),
		"transport", transport.Name(),
		"emotions", strings.Join(table.Names(), ","),
	)
	return e, nil
}

func presetsOrDefault(p map[string]map[string]float64) map[string]map[string]float64 {
	if len(p) == 0 {
		return emotion.DefaultPresets()
	}
	return p
}

func (e *Engine) sessionConfig(streamID, callSID, traceID string) session.Config {
	cfg := e.cfg
	return session.Config{
		StreamID:         streamID,
		CallSID:          callSID,
		TraceID:          traceID,
		GreetingText:     cfg.Greeting.Text,
		GreetingLanguage: cfg.Greeting.Language,
		GreetingProfile:  cfg.Greeting.Profile,
		Language:         cfg.Greeting.Language,
		SystemPrompt:     cfg.LLM.SystemPrompt,
		MaxHistory:       cfg.Context.MaxHistory,
		QueueSize:        cfg.Session.QueueSize,
		VAD: vad.Config{
			PauseThreshold:     configutil.Millis(cfg.VAD.PauseThresholdMS, 800*time.Millisecond),
			EnergyThreshold:    cfg.VAD.EnergyThreshold,
			MinSpeech:          configutil.Millis(cfg.VAD.MinSpeechMS, 0),
			MaxPreSpeechFrames: cfg.VAD.MaxPreSpeechFrames,
			MaxUtterance:       configutil.Millis(cfg.VAD.MaxUtteranceMS, 30*time.Second),
		},
		Segmenter: segmenter.Options{MinRunes: cfg.Segmenter.MinRunes},
		Synthesis: synthesis.Config{
			Concurrency:  cfg.Synthesis.Concurrency,
			Timeout:      configutil.Millis(cfg.Timeouts.SynthesizeMS, 20*time.Second),
			Retries:      cfg.Synthesis.Retries,
			RetryBackoff: configutil.Millis(cfg.Synthesis.RetryBackoffMS, 150*time.Millisecond),
			Breaker:      e.synthBreak,
			Tags:         map[string]string{metrics.TagProvider: e.synthesizer.Name()},
		},
		TranscribeTimeout: configutil.Millis(cfg.Timeouts.TranscribeMS, 15*time.Second),
		GenerateTimeout:   configutil.Millis(cfg.Timeouts.GenerateMS, 60*time.Second),
		GreetingTimeout:   configutil.Millis(cfg.Timeouts.GreetingMS, 20*time.Second),
	}
}

func (e *Engine) newSession(streamID, callSID, traceID string) (*session.Session, error) {
	return session.New(e.sessionConfig(streamID, callSID, traceID), session.Deps{
		Transcriber: e.transcriber,
		Generator:   e.generator,
		Synthesizer: e.synthesizer,
		Resolver:    e.resolver,
		Logger:      e.base,
		Observer:    e.asyncObs,
		Redact:      redact.Text,
	})
}

func (e *Engine) mountMetrics() {
	path := e.cfg.Observability.MetricsPath
	if path == "" {
		return
	}
	if addr := e.cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle(path, e.prom.Handler())
		e.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		return
	}
	if m, ok := e.transport.(transports.HandlerMounter); ok {
		m.Mount(path, e.prom.Handler())
	}
}

// Start starts the transport and routes its frames until ctx ends or Stop
// is called.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	if e.metricsSrv != nil {
		go func() {
			if err := e.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics_server_error", "error", err.Error())
			}
		}()
	}
	go e.route(ctx)
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

// Stop drains every session and stops the transport.
func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func (e *Engine) onStart(context.Context) error {
	fields := []any{"message", "Sapa Engine Ready"}
	if rr, ok := e.transport.(transports.ReadyReporter); ok {
		for k, v := range rr.ReadyFields() {
			fields = append(fields, k, v)
		}
	}
	e.logger.Info("engine_ready", fields...)
	return nil
}

func (e *Engine) drain(ctx context.Context) error {
	e.registry.SetDraining(true)
	_ = e.transport.Stop()
	e.registry.CloseAll()
	if e.metricsSrv != nil {
		_ = e.metricsSrv.Close()
	}
	done := make(chan struct{})
	go func() {
		e.pumps.Wait()
		close(done)
	}()
	if !e.registry.WaitForEmpty(ctx, 50*time.Millisecond) {
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) route(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			e.handle(ctx, f)
		}
	}
}

func (e *Engine) handle(ctx context.Context, f frames.Frame) {
	meta := f.Meta()
	streamID := meta[frames.MetaStreamID]
	if streamID == "" {
		return
	}
	switch fr := f.(type) {
	case frames.SystemFrame:
		switch fr.Name() {
		case frames.SystemCallStart:
			e.open(ctx, meta)
		case frames.SystemCallEnd:
			e.logger.Info("call_end", "stream_id", streamID, "reason", meta[frames.MetaCallEndReason])
			e.registry.Remove(streamID)
		}
	case frames.AudioFrame:
		sess := e.open(ctx, meta)
		if sess == nil {
			return
		}
		if err := sess.HandleFrame(fr); err != nil && !errors.Is(err, session.ErrClosed) {
			e.logger.Debug("frame_rejected", "stream_id", streamID, "reason", string(errorsx.Reason(err)))
		}
	}
}

// open returns the stream's session, creating it on call_start or on the
// first audio frame of an unannounced stream.
func (e *Engine) open(ctx context.Context, meta map[string]string) *session.Session {
	streamID := meta[frames.MetaStreamID]
	if sess, ok := e.registry.Get(streamID); ok {
		return sess
	}
	if e.registry.Draining() {
		return nil
	}
	sess, created, err := e.registry.GetOrCreate(ctx, streamID, meta[frames.MetaCallSID], meta[frames.MetaTraceID])
	if err != nil {
		e.logger.Error("session_create_failed", "stream_id", streamID, "error", err.Error())
		return nil
	}
	if created {
		e.pumps.Add(1)
		go func() {
			defer e.pumps.Done()
			e.dispatcher.Pump(streamID, sess.Segments())
		}()
	}
	return sess
}

// Hangup ends a call from the server side when the transport supports it,
// and always closes the session.
func (e *Engine) Hangup(ctx context.Context, streamID string) error {
	var err error
	if h, ok := e.transport.(transports.Hanger); ok {
		err = h.Hangup(ctx, streamID)
	}
	e.registry.Remove(streamID)
	return err
}

func (e *Engine) Config() Config                      { return e.cfg }
func (e *Engine) Transport() transports.Transport     { return e.transport }
func (e *Engine) Registry() *session.Registry         { return e.registry }
func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }
func (e *Engine) MetricsHandler() http.Handler        { return e.prom.Handler() }
func (e *Engine) Latency() *observers.LatencyObserver { return e.latency }
func (e *Engine) State() runner.State                 { return e.runner.State() }
