// Package synthesis renders sentences to audio with bounded concurrency and
// releases the results strictly in submission order.
package synthesis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/sapa/pkg/adapters/tts"
	"github.com/harunnryd/sapa/pkg/emotion"
	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/harunnryd/sapa/pkg/logging"
	"github.com/harunnryd/sapa/pkg/metrics"
	"github.com/harunnryd/sapa/pkg/resilience"
)

type Config struct {
	Concurrency  int
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	// Breaker is shared by every pipeline using the same provider. Nil
	// disables circuit breaking.
	Breaker *resilience.CircuitBreaker
	// Tags are added to every metrics event.
	Tags map[string]string
}

type Job struct {
	Index    int
	Text     string
	Profile  emotion.Profile
	Language string
}

// Result is either synthesized audio or a skip marker with Err set.
type Result struct {
	Job
	Audio   tts.Audio
	Latency time.Duration
	Err     error
}

func (r Result) Skipped() bool { return r.Err != nil }

type Pipeline struct {
	cfg    Config
	synth  tts.Synthesizer
	retry  resilience.RetryPolicy
	logger *slog.Logger
	obs    metrics.Observer
}

func New(cfg Config, synth tts.Synthesizer, logger *slog.Logger, obs metrics.Observer) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 150 * time.Millisecond
	}
	return &Pipeline{
		cfg:    cfg,
		synth:  synth,
		retry:  resilience.NewRetryPolicy(cfg.Retries, cfg.RetryBackoff),
		logger: logging.NewComponentLogger(logger, "synthesis"),
		obs:    metrics.OrNoop(obs),
	}
}

// Run starts a worker for each job while at most Concurrency are in flight.
// Results are held in a reorder buffer and released in the order the jobs
// were received. The output closes once the input is closed and every job
// is released, or as soon as ctx ends.
func (p *Pipeline) Run(ctx context.Context, in <-chan Job) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		done := make(chan Result, p.cfg.Concurrency)
		pending := make(map[int]Result)
		var order []int
		inflight := 0
		for in != nil || len(order) > 0 {
			jobs := in
			if inflight >= p.cfg.Concurrency {
				jobs = nil
			}
			select {
			case <-ctx.Done():
				return
			case job, ok := <-jobs:
				if !ok {
					in = nil
					continue
				}
				order = append(order, job.Index)
				inflight++
				go func() { done <- p.synthesize(ctx, job) }()
			case r := <-done:
				if ctx.Err() != nil {
					return
				}
				inflight--
				pending[r.Index] = r
				for len(order) > 0 {
					head, ok := pending[order[0]]
					if !ok {
						break
					}
					delete(pending, order[0])
					order = order[1:]
					select {
					case <-ctx.Done():
						return
					case out <- head:
					}
				}
			}
		}
	}()
	return out
}

func (p *Pipeline) synthesize(ctx context.Context, job Job) Result {
	res := Result{Job: job}
	if strings.TrimSpace(job.Text) == "" {
		res.Err = errorsx.Synthesis(errors.New("empty sentence"))
		return res
	}
	start := time.Now()
	req := tts.Request{Text: job.Text, Language: job.Language, Profile: job.Profile}
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		return p.cfg.Breaker.Call(func() error {
			callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()
			audio, err := p.synth.Synthesize(callCtx, req)
			if err != nil {
				return err
			}
			res.Audio = audio
			return nil
		})
	})
	res.Latency = time.Since(start)
	tags := p.tags(job)
	if err != nil {
		res.Err = errorsx.Synthesis(err)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			metrics.Emit(p.obs, metrics.EventBreakerDenied, 1, tags)
		}
		metrics.Emit(p.obs, metrics.EventSegmentSkipped, 1, tags)
		if ctx.Err() == nil {
			p.logger.Warn("sentence_skipped",
				slog.Int("index", job.Index),
				slog.String("profile", job.Profile.Name),
				slog.String("reason", string(errorsx.Reason(err))),
				slog.String("error", err.Error()),
			)
		}
		return res
	}
	metrics.Emit(p.obs, metrics.EventSegment, float64(res.Latency.Milliseconds()), tags)
	return res
}

func (p *Pipeline) tags(job Job) map[string]string {
	tags := map[string]string{
		metrics.TagComponent: "tts",
		metrics.TagProvider:  p.synth.Name(),
		metrics.TagProfile:   job.Profile.Name,
	}
	for k, v := range p.cfg.Tags {
		tags[k] = v
	}
	return tags
}
