package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobsInFlight   prometheus.Gauge
	queueLag       *prometheus.HistogramVec
	reclaimedTotal prometheus.Counter
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carc",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total processed indexing jobs by resolution.",
		},
		[]string{"service", "resolution"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carc",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Indexing job duration in seconds by resolution.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "resolution"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "carc",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of in-flight indexing jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carc",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	reclaimedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "carc",
			Subsystem: "worker",
			Name:      "jobs_reclaimed_total",
			Help:      "Jobs returned to pending after a lease expired.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, queueLag, reclaimedTotal)

	return &WorkerMetrics{
		registry:       registry,
		jobsTotal:      jobsTotal,
		jobDuration:    jobDuration,
		jobsInFlight:   jobsInFlight,
		queueLag:       queueLag,
		reclaimedTotal: reclaimedTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

// FinishJob records the job outcome: "completed", "retried" or "failed".
func (m *WorkerMetrics) FinishJob(service, resolution string, duration time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(service, resolution).Inc()
	m.jobDuration.WithLabelValues(service, resolution).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) AddReclaimed(count int) {
	if count <= 0 {
		return
	}
	m.reclaimedTotal.Add(float64(count))
}
