// Package metrics exposes Prometheus instruments for the intake service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	accepted        prometheus.Counter
	rejections      *prometheus.CounterVec
	registryLookups *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates and registers all instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "owl",
			Name:      "submissions_accepted_total",
			Help:      "Submissions persisted after passing every intake check.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "owl",
			Name:      "submissions_rejected_total",
			Help:      "Submissions rejected at intake, by rejection kind.",
		}, []string{"kind"}),
		registryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "owl",
			Name:      "model_validations_total",
			Help:      "Model reference validations, by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "owl",
			Name:      "queue_depth",
			Help:      "Active submissions at the last queue read, by status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "owl",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "owl",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		m.accepted,
		m.rejections,
		m.registryLookups,
		m.queueDepth,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Accepted counts a persisted submission.
func (m *Metrics) Accepted() { m.accepted.Inc() }

// Rejected counts a rejection of the given kind.
func (m *Metrics) Rejected(kind string) { m.rejections.WithLabelValues(kind).Inc() }

// Validated counts a model validation outcome.
func (m *Metrics) Validated(outcome string) { m.registryLookups.WithLabelValues(outcome).Inc() }

// SetQueueDepth replaces the per-status gauge values.
func (m *Metrics) SetQueueDepth(byStatus map[string]int) {
	m.queueDepth.Reset()
	for status, n := range byStatus {
		m.queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// knownMethods bounds the method label; anything else is "other".
var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodConnect: true,
	http.MethodTrace:   true,
}

func methodLabel(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// Middleware records request counts and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		method := methodLabel(r.Method)
		m.httpRequests.WithLabelValues(method, strconv.Itoa(rw.status)).Inc()
		m.httpDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
