package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver exports events as sapa_* series on its own registry.
type PrometheusObserver struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	sessions prometheus.Gauge
	breakers *prometheus.GaugeVec
}

func NewPrometheusObserver() *PrometheusObserver {
	reg := prometheus.NewRegistry()
	p := &PrometheusObserver{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sapa_events_total",
			Help: "Pipeline events by name and component",
		}, []string{"event", "component"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sapa_stage_latency_seconds",
			Help:    "Stage latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		}, []string{"event"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sapa_active_sessions",
			Help: "Number of open conversation sessions",
		}),
		breakers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sapa_circuit_breaker_open",
			Help: "Circuit breaker state per provider (1=open)",
		}, []string{"provider"}),
	}
	reg.MustRegister(p.events, p.latency, p.sessions, p.breakers)
	return p
}

func (p *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	component := ev.Tags[TagComponent]
	if component == "" {
		component, _, _ = strings.Cut(ev.Name, ".")
	}
	p.events.WithLabelValues(ev.Name, component).Inc()
	if IsLatency(ev.Name) && ev.Value > 0 {
		p.latency.WithLabelValues(ev.Name).Observe(ev.Value / 1000)
	}
	switch ev.Name {
	case EventSessionStart:
		p.sessions.Inc()
	case EventSessionEnd:
		p.sessions.Dec()
	case EventBreakerOpen:
		p.breakers.WithLabelValues(ev.Tags[TagProvider]).Set(1)
	case EventBreakerClose:
		p.breakers.WithLabelValues(ev.Tags[TagProvider]).Set(0)
	}
}

func (p *PrometheusObserver) Registry() *prometheus.Registry { return p.registry }

func (p *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
