package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors. All methods are safe on a nil receiver.
type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	issuesClosed   *prometheus.CounterVec
	pointsCredited prometheus.Counter
	creditFailures prometheus.Counter
}

// NewMetrics registers collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests"},
			[]string{"path", "method", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Latency of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_errors_total", Help: "Count of error responses by code"},
			[]string{"path", "method", "code"},
		),
		issuesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "issues_closed_total", Help: "Issues closed, by difficulty"},
			[]string{"difficulty"},
		),
		pointsCredited: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "reward_points_credited_total", Help: "Reward points credited to users"},
		),
		creditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "issue_credit_failures_total", Help: "Closes whose reward credit failed"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.errors,
		m.issuesClosed,
		m.pointsCredited,
		m.creditFailures,
	)
	return m
}

// RecordRequest observes a finished request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError counts an error response.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// IssueClosed counts a successful close.
func (m *Metrics) IssueClosed(difficulty string) {
	if m == nil {
		return
	}
	m.issuesClosed.WithLabelValues(difficulty).Inc()
}

// PointsCredited adds amount to the credited-points counter.
func (m *Metrics) PointsCredited(amount int) {
	if m == nil || amount <= 0 {
		return
	}
	m.pointsCredited.Add(float64(amount))
}

// CreditFailure counts a close whose credit did not land.
func (m *Metrics) CreditFailure() {
	if m == nil {
		return
	}
	m.creditFailures.Inc()
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
