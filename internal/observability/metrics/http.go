package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	askRequestsTotal   *prometheus.CounterVec
	askReferences      *prometheus.HistogramVec
	rateLimitedTotal   *prometheus.CounterVec
	indexRequestsTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	askRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qa",
			Name:      "requests_total",
			Help:      "Total QA requests by endpoint and kind (new or resume).",
		},
		[]string{"service", "endpoint", "kind"},
	)
	askReferences := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "qa",
			Name:      "references",
			Help:      "Distribution of references per answered QA request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "endpoint"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter.",
		},
		[]string{"service", "path"},
	)
	indexRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "sync_requests_total",
			Help:      "Total index sync events published by operation.",
		},
		[]string{"service", "op"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		askRequestsTotal,
		askReferences,
		rateLimitedTotal,
		indexRequestsTotal,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		askRequestsTotal:   askRequestsTotal,
		askReferences:      askReferences,
		rateLimitedTotal:   rateLimitedTotal,
		indexRequestsTotal: indexRequestsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registerer lets other collectors share the /metrics endpoint.
func (m *HTTPServerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded for unknown paths.
func normalizePath(path string) string {
	switch path {
	case "/healthz", "/metrics", "/v1/qa/ask", "/v1/qa/ask/stream", "/v1/index/sync":
		return path
	default:
		return "other"
	}
}

func (m *HTTPServerMetrics) RecordAskRequest(service, endpoint string, resume bool) {
	kind := "new"
	if resume {
		kind = "resume"
	}
	m.askRequestsTotal.WithLabelValues(service, endpoint, kind).Inc()
}

func (m *HTTPServerMetrics) RecordReferences(service, endpoint string, count int) {
	if count < 0 {
		count = 0
	}
	m.askReferences.WithLabelValues(service, endpoint).Observe(float64(count))
}

func (m *HTTPServerMetrics) RecordRateLimited(service, path string) {
	m.rateLimitedTotal.WithLabelValues(service, normalizePath(path)).Inc()
}

func (m *HTTPServerMetrics) RecordIndexRequest(service, op string) {
	if op == "" {
		op = "unknown"
	}
	m.indexRequestsTotal.WithLabelValues(service, op).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
