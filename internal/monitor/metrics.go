package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the snippet runner.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	ExecutionErrors     *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	ValidationsTotal    *prometheus.CounterVec
	ActiveExecutions    prometheus.Gauge
	SecurityEvents      *prometheus.CounterVec
	BuildCacheLookups   *prometheus.CounterVec
	RequestsInFlight    prometheus.Gauge
	HTTPRequestDuration *prometheus.HistogramVec
	RejectedRequests    *prometheus.CounterVec
	CodeSizeBytes       prometheus.Histogram
	OutputSizeBytes     prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "snippet",
				Name:      "executions_total",
				Help:      "Total number of snippet executions by toolchain and status.",
			},
			[]string{"toolchain", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "snippet",
				Name:      "execution_duration_seconds",
				Help:      "End-to-end duration of snippet executions in seconds.",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
			},
			[]string{"toolchain"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "snippet",
				Name:      "execution_errors_total",
				Help:      "Total snippet execution failures by kind.",
			},
			[]string{"kind"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "snippet",
				Name:      "stage_duration_seconds",
				Help:      "Duration of individual pipeline stages (build, run, check).",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "snippet",
				Name:      "validations_total",
				Help:      "Total number of compile-only validations by toolchain and verdict.",
			},
			[]string{"toolchain", "valid"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "snippet",
				Name:      "active_executions",
				Help:      "Number of currently running snippet pipelines.",
			},
		),

		SecurityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "snippet",
				Name:      "security_events_total",
				Help:      "Suspicious patterns seen in submitted code or program output.",
			},
			[]string{"type"},
		),

		BuildCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "snippet",
				Name:      "build_cache_lookups_total",
				Help:      "Build cache lookups by result (hit, miss, shared).",
			},
			[]string{"result"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "snippet",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "snippet",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration by route and status code.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "code"},
		),

		RejectedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "snippet",
				Subsystem: "api",
				Name:      "rejected_requests_total",
				Help:      "Requests turned away before reaching a handler, by reason.",
			},
			[]string{"reason"},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "snippet",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "snippet",
				Name:      "output_size_bytes",
				Help:      "Size of captured program output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.StageDuration,
		m.ValidationsTotal,
		m.ActiveExecutions,
		m.SecurityEvents,
		m.BuildCacheLookups,
		m.RequestsInFlight,
		m.HTTPRequestDuration,
		m.RejectedRequests,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records metrics for a completed execution.
func (m *Metrics) RecordExecution(toolchain, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(toolchain, status).Inc()
	m.ExecutionDuration.WithLabelValues(toolchain).Observe(durationSec)
}

// RecordValidation records a compile-only check verdict.
func (m *Metrics) RecordValidation(toolchain string, valid bool) {
	verdict := "false"
	if valid {
		verdict = "true"
	}
	m.ValidationsTotal.WithLabelValues(toolchain, verdict).Inc()
}

// RecordStage records how long one pipeline stage took.
func (m *Metrics) RecordStage(stage string, durationSec float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSec)
}

// RecordError records an execution failure by kind.
func (m *Metrics) RecordError(kind string) {
	m.ExecutionErrors.WithLabelValues(kind).Inc()
}

// RecordSecurityEvent records a security event.
func (m *Metrics) RecordSecurityEvent(eventType string) {
	m.SecurityEvents.WithLabelValues(eventType).Inc()
}

// RecordCacheLookup records a build cache lookup result.
func (m *Metrics) RecordCacheLookup(result string) {
	m.BuildCacheLookups.WithLabelValues(result).Inc()
}

// RecordRejection records a request refused before reaching a handler.
func (m *Metrics) RecordRejection(reason string) {
	m.RejectedRequests.WithLabelValues(reason).Inc()
}
