package metrics

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalTotal     *prometheus.CounterVec
	retrievalQueries   *prometheus.HistogramVec
	retrievalFailed    *prometheus.CounterVec
	retrievalResults   *prometheus.HistogramVec
	retrievalDuration  *prometheus.HistogramVec
	retrievalStrategy  *prometheus.CounterVec
	rateLimitedTotal   *prometheus.CounterVec
	backpressureReject *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filings_rag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filings_rag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "filings_rag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filings_rag",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrieval requests by outcome status.",
		},
		[]string{"service", "status", "expanded"},
	)
	retrievalQueries := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filings_rag",
			Subsystem: "retrieval",
			Name:      "queries_executed",
			Help:      "Query variations executed per retrieval request.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"service"},
	)
	retrievalFailed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filings_rag",
			Subsystem: "retrieval",
			Name:      "failed_queries_total",
			Help:      "Query variations whose search failed and degraded to an empty list.",
		},
		[]string{"service"},
	)
	retrievalResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filings_rag",
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Distribution of returned chunks per retrieval request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 50},
		},
		[]string{"service"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filings_rag",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval duration in seconds, variation generation included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "expanded"},
	)
	retrievalStrategy := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filings_rag",
			Subsystem: "retrieval",
			Name:      "variation_strategy_total",
			Help:      "Executed query variations by rewrite strategy.",
		},
		[]string{"service", "strategy"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filings_rag",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		},
		[]string{"service"},
	)
	backpressureReject := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filings_rag",
			Subsystem: "http",
			Name:      "backpressure_rejected_total",
			Help:      "Requests rejected because too many were in flight.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalTotal,
		retrievalQueries,
		retrievalFailed,
		retrievalResults,
		retrievalDuration,
		retrievalStrategy,
		rateLimitedTotal,
		backpressureReject,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		service:            service,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		retrievalTotal:     retrievalTotal,
		retrievalQueries:   retrievalQueries,
		retrievalFailed:    retrievalFailed,
		retrievalResults:   retrievalResults,
		retrievalDuration:  retrievalDuration,
		retrievalStrategy:  retrievalStrategy,
		rateLimitedTotal:   rateLimitedTotal,
		backpressureReject: backpressureReject,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
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
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/chunks/"):
		return "/v1/chunks/{chunk_id}"
	default:
		return path
	}
}

// ObserveRetrieval records one completed retrieval request.
func (m *HTTPServerMetrics) ObserveRetrieval(_ context.Context, event domain.RetrievalEvent) {
	status := string(event.Status)
	if event.Err != "" {
		status = "error"
	}
	if status == "" {
		status = "unknown"
	}
	expanded := strconv.FormatBool(event.Expanded)

	m.retrievalTotal.WithLabelValues(m.service, status, expanded).Inc()
	m.retrievalDuration.WithLabelValues(m.service, expanded).Observe(event.Duration.Seconds())
	if event.Err != "" {
		return
	}
	m.retrievalQueries.WithLabelValues(m.service).Observe(float64(event.QueriesExecuted))
	m.retrievalResults.WithLabelValues(m.service).Observe(float64(event.ResultCount))
	if event.FailedQueries > 0 {
		m.retrievalFailed.WithLabelValues(m.service).Add(float64(event.FailedQueries))
	}
	for _, strategy := range event.Strategies {
		m.retrievalStrategy.WithLabelValues(m.service, string(strategy)).Inc()
	}
}

func (m *HTTPServerMetrics) RecordRateLimited() {
	m.rateLimitedTotal.WithLabelValues(m.service).Inc()
}

func (m *HTTPServerMetrics) RecordBackpressureReject() {
	m.backpressureReject.WithLabelValues(m.service).Inc()
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
