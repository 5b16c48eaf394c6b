package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface
// and the three batch jobs.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	specsMaterialized prometheus.Counter
	specsSkipped      *prometheus.CounterVec
	gradesQueued      prometheus.Counter
	gradesExported    *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	specsMaterialized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "specs_materialized_total",
		Help: "Assignment specifications materialized into activities",
	})

	specsSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "specs_skipped_total",
		Help: "Materialization skips by reason",
	}, []string{"reason"})

	gradesQueued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grades_queued_total",
		Help: "Finalized grades converted and queued for upload",
	})

	gradesExported := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grades_exported_total",
		Help: "Queued grades reconciled after upload, by outcome",
	}, []string{"outcome"})

	registry.MustRegister(requestDuration, requestTotal, specsMaterialized, specsSkipped, gradesQueued, gradesExported)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		specsMaterialized: specsMaterialized,
		specsSkipped:      specsSkipped,
		gradesQueued:      gradesQueued,
		gradesExported:    gradesExported,
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one request observation.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": fmt.Sprintf("%d", status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// IncMaterialized counts one successful materialization.
func (s *MetricsService) IncMaterialized() {
	s.specsMaterialized.Inc()
}

// IncSkipped counts one materialization skip.
func (s *MetricsService) IncSkipped(reason string) {
	s.specsSkipped.WithLabelValues(reason).Inc()
}

// IncQueued counts one enqueued grade.
func (s *MetricsService) IncQueued() {
	s.gradesQueued.Inc()
}

// AddExported counts reconciled grades for an outcome.
func (s *MetricsService) AddExported(outcome string, n int) {
	s.gradesExported.WithLabelValues(outcome).Add(float64(n))
}
