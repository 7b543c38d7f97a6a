// Package metrics exposes Prometheus collectors for fetch activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokstats/tiktok"
)

const namespace = "tokstats"

// Metrics holds the collectors. It implements tiktok.Observer.
type Metrics struct {
	FetchTotal       *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	RecordsReturned  *prometheus.HistogramVec
	SkipsTotal       *prometheus.CounterVec
	RequestsInWindow *prometheus.GaugeVec
	SavedTotal       prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		FetchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Total number of fetches by mode, source and outcome",
			},
			[]string{"mode", "source", "status"},
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of fetches in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode", "source"},
		),
		RecordsReturned: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "records_returned",
				Help:      "Distribution of records returned per successful fetch",
				Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 250},
			},
			[]string{"mode", "source"},
		),
		SkipsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_skips_total",
				Help:      "Items left out of byId batches by error kind",
			},
			[]string{"mode", "source", "kind"},
		),
		RequestsInWindow: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_requests_in_window",
				Help:      "Requests counted in the current rate limit window",
			},
			[]string{"source"},
		),
		SavedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "videos_saved_total",
				Help:      "Videos written to storage",
			},
		),
		gatherer: reg,
	}
}

// ObserveFetch implements tiktok.Observer.
func (m *Metrics) ObserveFetch(mode, source, status string, records int, elapsed time.Duration) {
	m.FetchTotal.WithLabelValues(mode, source, status).Inc()
	m.FetchDuration.WithLabelValues(mode, source).Observe(elapsed.Seconds())
	if status == "ok" {
		m.RecordsReturned.WithLabelValues(mode, source).Observe(float64(records))
	}
}

// ObserveSkip implements tiktok.Observer.
func (m *Metrics) ObserveSkip(mode, source, kind string) {
	m.SkipsTotal.WithLabelValues(mode, source, kind).Inc()
}

// ObserveLimiter publishes a limiter's current window usage.
func (m *Metrics) ObserveLimiter(source string, rl *tiktok.RateLimiter) {
	if rl == nil {
		return
	}
	m.RequestsInWindow.WithLabelValues(source).Set(float64(rl.State().RequestsInWindow))
}

// ObserveSaved counts videos written to storage.
func (m *Metrics) ObserveSaved(n int) {
	m.SavedTotal.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
