// Package metrics defines the Prometheus collectors of the structure engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector on its own prometheus.Registry so several
// instances can coexist (tests, embedded use).
type Registry struct {
	reg *prometheus.Registry

	AnalysisDuration *prometheus.HistogramVec
	EventsDetected   *prometheus.CounterVec
	SizingOutcomes   *prometheus.CounterVec
	FeedErrors       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		AnalysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "structure_analysis_duration_seconds",
				Help:    "Time spent computing one snapshot",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"timeframe"},
		),
		EventsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structure_events_detected_total",
				Help: "Confirmed structure events and sweeps published",
			},
			[]string{"symbol", "timeframe", "kind", "direction"},
		),
		SizingOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structure_sizing_outcomes_total",
				Help: "Sizing requests by outcome (ok, warning name or error)",
			},
			[]string{"outcome"},
		),
		FeedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structure_feed_errors_total",
				Help: "Bar feed failures",
			},
			[]string{"symbol", "timeframe"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structure_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
	}
	r.reg.MustRegister(
		r.AnalysisDuration,
		r.EventsDetected,
		r.SizingOutcomes,
		r.FeedErrors,
		r.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveAnalysis records how long one snapshot took.
func (r *Registry) ObserveAnalysis(timeframe string, took time.Duration) {
	r.AnalysisDuration.WithLabelValues(timeframe).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
