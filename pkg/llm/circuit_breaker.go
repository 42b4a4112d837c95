package llm

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/sapa/pkg/metrics"
	"github.com/harunnryd/sapa/pkg/resilience"
)

// CircuitBreakerGenerator wraps a Generator with rate-limit circuit breaking.
// Only stream setup counts toward the breaker; a failure mid-stream is
// reported by the caller through the stream error.
type CircuitBreakerGenerator struct {
	inner   Generator
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	open    bool
	mu      sync.Mutex
}

func NewCircuitBreakerGenerator(inner Generator, breaker *resilience.CircuitBreaker) *CircuitBreakerGenerator {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerGenerator{inner: inner, breaker: breaker}
}

func (g *CircuitBreakerGenerator) Name() string { return g.inner.Name() }

// SetObserver allows metrics emission for breaker events.
func (g *CircuitBreakerGenerator) SetObserver(obs metrics.Observer) { g.obs = obs }

func (g *CircuitBreakerGenerator) Generate(ctx context.Context, req Request) (Stream, error) {
	if !g.breaker.Allow() {
		g.setOpen(true)
		g.record(metrics.EventBreakerDenied)
		return Stream{}, resilience.RateLimitError{Provider: g.Name(), Message: "degraded"}
	}
	g.setOpen(false)
	s, err := g.inner.Generate(ctx, req)
	if err != nil {
		if resilience.IsRateLimit(err) {
			g.record(metrics.EventRateLimit)
		}
		g.breaker.OnError(err)
		return Stream{}, err
	}
	g.breaker.OnSuccess()
	return s, nil
}

func (g *CircuitBreakerGenerator) record(name string) {
	metrics.Emit(g.obs, name, 1, map[string]string{
		metrics.TagProvider:  g.inner.Name(),
		metrics.TagComponent: "llm",
	})
}

func (g *CircuitBreakerGenerator) setOpen(open bool) {
	g.mu.Lock()
	changed := g.open != open
	g.open = open
	g.mu.Unlock()
	if !changed {
		return
	}
	if open {
		g.record(metrics.EventBreakerOpen)
		return
	}
	g.record(metrics.EventBreakerClose)
}
