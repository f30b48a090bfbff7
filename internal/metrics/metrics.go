// Package metrics exposes Prometheus metrics for classification and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/gamesense/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds collectors registered on a dedicated registry, so several instances
// (e.g. in tests) do not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	ClassifyTotal      *prometheus.CounterVec
	ClassifySimilarity prometheus.Histogram
	ClusterVectors     *prometheus.GaugeVec
	Clusters           prometheus.Gauge
	VisualizeFailures  prometheus.Counter

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ClassifyTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamesense_classify_total",
				Help: "Total classified clips by outcome",
			},
			[]string{"outcome"}, // labeled, matched, unmatched, no_clusters
		),
		ClassifySimilarity: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gamesense_classify_similarity",
				Help:    "Best centroid cosine similarity of unlabeled clips",
				Buckets: []float64{-0.5, 0, 0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
			},
		),
		ClusterVectors: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gamesense_cluster_vectors",
				Help: "Stored feature vectors per game cluster",
			},
			[]string{"game"},
		),
		Clusters: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "gamesense_clusters",
				Help: "Number of game clusters",
			},
		),
		VisualizeFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "gamesense_visualize_failures_total",
				Help: "Cluster plot regenerations that failed",
			},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamesense_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gamesense_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOutcome records one classify call.
func (m *Metrics) ObserveOutcome(o *models.Outcome) {
	if o == nil {
		return
	}
	m.ClassifyTotal.WithLabelValues(string(o.Kind)).Inc()
	if o.Kind == models.OutcomeMatched || o.Kind == models.OutcomeUnmatched {
		m.ClassifySimilarity.Observe(o.Similarity)
	}
}

// ObserveClusters sets the per-cluster gauges.
func (m *Metrics) ObserveClusters(stats []models.GameStat) {
	m.Clusters.Set(float64(len(stats)))
	for _, s := range stats {
		m.ClusterVectors.WithLabelValues(s.Game).Set(float64(s.Vectors))
	}
}

// ObserveVisualizeFailure counts a failed plot regeneration.
func (m *Metrics) ObserveVisualizeFailure() {
	m.VisualizeFailures.Inc()
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
