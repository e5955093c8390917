package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	batchTotal    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchInFlight prometheus.Gauge
	chunksIndexed *prometheus.CounterVec
	indexLag      *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	batchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filings_rag",
			Subsystem: "indexer",
			Name:      "batches_total",
			Help:      "Total chunk batches handled by status.",
		},
		[]string{"service", "status"},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filings_rag",
			Subsystem: "indexer",
			Name:      "batch_duration_seconds",
			Help:      "Chunk batch indexing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	batchInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "filings_rag",
			Subsystem: "indexer",
			Name:      "batches_in_flight",
			Help:      "Number of chunk batches being indexed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chunksIndexed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filings_rag",
			Subsystem: "indexer",
			Name:      "chunks_total",
			Help:      "Total chunks upserted by form type.",
		},
		[]string{"service", "form_type"},
	)
	indexLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filings_rag",
			Subsystem: "indexer",
			Name:      "lag_seconds",
			Help:      "Delay between chunk creation upstream and indexing.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(batchTotal, batchDuration, batchInFlight, chunksIndexed, indexLag)

	return &WorkerMetrics{
		registry:      registry,
		service:       service,
		batchTotal:    batchTotal,
		batchDuration: batchDuration,
		batchInFlight: batchInFlight,
		chunksIndexed: chunksIndexed,
		indexLag:      indexLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartBatch() {
	m.batchInFlight.Inc()
}

func (m *WorkerMetrics) FinishBatch(formType string, chunks int, duration time.Duration, err error) {
	m.batchInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.batchTotal.WithLabelValues(m.service, status).Inc()
	m.batchDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
	if err == nil && chunks > 0 {
		if formType == "" {
			formType = "unknown"
		}
		m.chunksIndexed.WithLabelValues(m.service, formType).Add(float64(chunks))
	}
}

func (m *WorkerMetrics) ObserveIndexLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.indexLag.WithLabelValues(m.service).Observe(lag.Seconds())
}
