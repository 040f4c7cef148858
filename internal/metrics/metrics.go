// Package metrics provides Prometheus metrics for the chat service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wwbchat"

// Turn statuses used as the status label of TurnsTotal.
const (
	StatusOK            = "ok"
	StatusLimitExceeded = "limit_exceeded"
	StatusError         = "error"
)

// Metrics holds the collectors of one registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal         *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	ReplyFragments     prometheus.Histogram
	QuotaRejections    prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Chat turns processed, by outcome",
			},
			[]string{"status"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Latency of reply generation calls",
				Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30},
			},
			[]string{"backend"},
		),
		ReplyFragments: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reply_fragments",
				Help:      "Number of fragments a reply was split into",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
		),
		QuotaRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_rejections_total",
				Help:      "Turns rejected because the daily limit was reached",
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveTurn(status string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveGeneration(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) ObserveFragments(n int) {
	if m == nil {
		return
	}
	m.ReplyFragments.Observe(float64(n))
}

func (m *Metrics) QuotaRejected() {
	if m == nil {
		return
	}
	m.QuotaRejections.Inc()
}

func (m *Metrics) ObserveHTTP(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}
