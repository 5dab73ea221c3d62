// Package telemetry exposes the pipeline's own prometheus metrics: how
// many records the collector ingests, deduplicates, and evicts, and an
// HTTP server for /metrics and /healthz.
//
// Grounded on internal/metrics.NewMetricsServer — a prometheus registry
// plus a small http.ServeMux serving /metrics via promhttp and a
// liveness /health — trimmed from the teacher's several hundred
// counters down to the handful this pipeline's own operation needs.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics implements collector.Recorder and httpadapter's duration hook.
type Metrics struct {
	registry *prometheus.Registry

	ingestAccepted   prometheus.Counter
	ingestDuplicate  prometheus.Counter
	ingestEvicted    prometheus.Counter
	ingestParseError prometheus.Counter
	queueDepth       prometheus.Gauge
	routeDuration    *prometheus.HistogramVec
}

// New builds a fresh, independently registered Metrics instance —
// independent registries let tests construct more than one Collector
// without a global-registration panic (the teacher's safeRegister
// sidesteps the same problem for its package-level global vars).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ingestAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "taist_collector_ingest_accepted_total",
			Help: "Total number of trace records admitted into the buffer.",
		}),
		ingestDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "taist_collector_ingest_duplicate_total",
			Help: "Total number of trace records rejected as duplicates.",
		}),
		ingestEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "taist_collector_ingest_evicted_total",
			Help: "Total number of trace records evicted from the bounded buffer.",
		}),
		ingestParseError: factory.NewCounter(prometheus.CounterOpts{
			Name: "taist_collector_parse_error_total",
			Help: "Total number of malformed NDJSON lines dropped.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taist_collector_buffer_depth",
			Help: "Current number of trace records held in the buffer.",
		}),
		routeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taist_httpadapter_route_duration_seconds",
			Help:    "Duration of instrumented HTTP routes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// IngestAccepted implements collector.Recorder.
func (m *Metrics) IngestAccepted() { m.ingestAccepted.Inc() }

// IngestDuplicate implements collector.Recorder.
func (m *Metrics) IngestDuplicate() { m.ingestDuplicate.Inc() }

// IngestEvicted implements collector.Recorder.
func (m *Metrics) IngestEvicted() { m.ingestEvicted.Inc() }

// IngestParseError implements collector.Recorder.
func (m *Metrics) IngestParseError() { m.ingestParseError.Inc() }

// QueueDepth implements collector.Recorder.
func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// RouteDuration records one completed HTTP route invocation, used by
// internal/httpadapter.
func (m *Metrics) RouteDuration(method, path, status string, seconds float64) {
	m.routeDuration.WithLabelValues(method, path, status).Observe(seconds)
}

// Server hosts /metrics and /healthz for the collector driver process.
type Server struct {
	http *http.Server
}

// NewServer builds an HTTP server exposing m's registry.
func NewServer(addr string, m *Metrics, logger *logrus.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the server in the background. Errors other than a clean
// shutdown are logged, mirroring internal/metrics.MetricsServer.Start.
func (s *Server) Start(logger *logrus.Logger) {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("telemetry: metrics server error")
		}
	}()
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
