package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type SearchMetrics struct {
	registry *prometheus.Registry

	searchTotal    *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	windowCount    prometheus.Histogram
}

func NewSearchMetrics(service string) *SearchMetrics {
	registry := prometheus.NewRegistry()

	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carc",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total search/retrieve calls by mode and status.",
		},
		[]string{"service", "mode", "status"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carc",
			Subsystem: "search",
			Name:      "request_duration_seconds",
			Help:      "Search/retrieve duration in seconds by mode.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)
	windowCount := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "carc",
			Subsystem: "search",
			Name:      "context_windows",
			Help:      "Context windows returned per retrieve call.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(searchTotal, searchDuration, windowCount)

	return &SearchMetrics{
		registry:       registry,
		searchTotal:    searchTotal,
		searchDuration: searchDuration,
		windowCount:    windowCount,
	}
}

func (m *SearchMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *SearchMetrics) ObserveSearch(service, mode string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.searchTotal.WithLabelValues(service, mode, status).Inc()
	m.searchDuration.WithLabelValues(service, mode).Observe(duration.Seconds())
}

func (m *SearchMetrics) ObserveWindows(count int) {
	m.windowCount.Observe(float64(count))
}
