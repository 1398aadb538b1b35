// Package monitor exposes prometheus metrics for arbitration and HTTP traffic.
package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestsSubmitted *prometheus.CounterVec
	Resolutions       *prometheus.CounterVec
	ResolveLatency    prometheus.Histogram
	GamesEnded        prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	HTTPLatency       *prometheus.HistogramVec
}

// NewMetrics builds the metric set on its own registry, so several
// instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_submitted_total",
			Help:      "Player requests written to the admin mailbox",
		}, []string{"type"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Requests resolved, by type and outcome",
		}, []string{"type", "outcome"}),
		ResolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_latency_seconds",
			Help:      "Time from request submission to resolution",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		GamesEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_ended_by_clock_total",
			Help:      "Games ended because their time ran out",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsSubmitted,
		m.Resolutions,
		m.ResolveLatency,
		m.GamesEnded,
		m.HTTPRequests,
		m.HTTPLatency,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSubmitted counts a new player request.
func (m *Metrics) ObserveSubmitted(msgType string) {
	if m == nil {
		return
	}
	m.RequestsSubmitted.WithLabelValues(msgType).Inc()
}

// ObserveResolution counts a resolved request. outcome is approved,
// rejected, ignored or dropped.
func (m *Metrics) ObserveResolution(msgType, outcome string, age time.Duration) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(msgType, outcome).Inc()
	if age > 0 {
		m.ResolveLatency.Observe(age.Seconds())
	}
}

func (m *Metrics) ObserveGamesEnded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.GamesEnded.Add(float64(n))
}

// Middleware records per-route request counts and latency.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
