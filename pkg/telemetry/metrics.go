package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for CPI dispatch and agent calls.
// A nil *Metrics and a disabled one are both valid and record nothing.
type Metrics struct {
	config MetricsConfig

	// CPI metrics
	cpiCalls         *prometheus.CounterVec
	cpiDuration      *prometheus.HistogramVec
	cpiErrors        *prometheus.CounterVec
	cpiAbsorbed      *prometheus.CounterVec
	externalProcess  *prometheus.CounterVec
	inflightCPICalls *prometheus.GaugeVec

	// Agent metrics
	agentRequests *prometheus.CounterVec
	agentRetries  *prometheus.CounterVec
	agentPolls    *prometheus.CounterVec
	agentTaskWait *prometheus.HistogramVec
	agentTasks    prometheus.Gauge

	// Blobstore metrics
	blobOperations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		cpiCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cpi_calls_total",
				Help:      "Total number of CPI calls by outcome",
			},
			[]string{"backend", "operation", "outcome"},
		),
		cpiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cpi_call_duration_seconds",
				Help:      "Duration of CPI calls in seconds",
				Buckets:   buckets,
			},
			[]string{"backend", "operation"},
		),
		cpiErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cpi_errors_total",
				Help:      "Total number of failed CPI calls by error kind",
			},
			[]string{"backend", "operation", "kind"},
		),
		cpiAbsorbed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cpi_absorbed_not_found_total",
				Help:      "Delete-class calls whose target was already gone",
			},
			[]string{"backend", "operation"},
		),
		externalProcess: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_cpi_processes_total",
				Help:      "External CPI executions by termination reason",
			},
			[]string{"backend", "result"},
		),
		inflightCPICalls: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cpi_calls_in_flight",
				Help:      "Current number of CPI calls in progress",
			},
			[]string{"backend"},
		),

		agentRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_requests_total",
				Help:      "Total number of agent requests by outcome",
			},
			[]string{"method", "outcome"},
		),
		agentRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_request_retries_total",
				Help:      "Agent requests repeated after a transient transport error",
			},
			[]string{"method"},
		),
		agentPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_task_polls_total",
				Help:      "Total number of get_task polls",
			},
			[]string{"method"},
		),
		agentTaskWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_task_wait_seconds",
				Help:      "Time spent waiting for agent tasks by final state",
				Buckets:   buckets,
			},
			[]string{"method", "state"},
		),
		agentTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_tasks_waiting",
				Help:      "Current number of agent tasks being waited on",
			},
		),

		blobOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blobstore_operations_total",
				Help:      "Total number of blobstore operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
	}

	registry.MustRegister(
		m.cpiCalls,
		m.cpiDuration,
		m.cpiErrors,
		m.cpiAbsorbed,
		m.externalProcess,
		m.inflightCPICalls,
		m.agentRequests,
		m.agentRetries,
		m.agentPolls,
		m.agentTaskWait,
		m.agentTasks,
		m.blobOperations,
	)

	return m, nil
}

// CPI Metrics

// CPICallStarted tracks a call in flight. The returned func marks it done.
func (m *Metrics) CPICallStarted(backend string) func() {
	if m == nil || m.inflightCPICalls == nil {
		return func() {}
	}
	g := m.inflightCPICalls.WithLabelValues(backend)
	g.Inc()
	return g.Dec
}

// RecordCPICall records a finished CPI call.
func (m *Metrics) RecordCPICall(backend, operation, outcome string, duration time.Duration) {
	if m == nil || m.cpiCalls == nil {
		return
	}
	m.cpiCalls.WithLabelValues(backend, operation, outcome).Inc()
	m.cpiDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordCPIError records a failed CPI call by error kind.
func (m *Metrics) RecordCPIError(backend, operation, kind string) {
	if m == nil || m.cpiErrors == nil {
		return
	}
	m.cpiErrors.WithLabelValues(backend, operation, kind).Inc()
}

// RecordAbsorbedNotFound records a delete-class call treated as done.
func (m *Metrics) RecordAbsorbedNotFound(backend, operation string) {
	if m == nil || m.cpiAbsorbed == nil {
		return
	}
	m.cpiAbsorbed.WithLabelValues(backend, operation).Inc()
}

// RecordExternalProcess records how an external CPI process ended
// (ok, error, timeout, crashed).
func (m *Metrics) RecordExternalProcess(backend, result string) {
	if m == nil || m.externalProcess == nil {
		return
	}
	m.externalProcess.WithLabelValues(backend, result).Inc()
}

// Agent Metrics

// RecordAgentRequest records a finished agent request.
func (m *Metrics) RecordAgentRequest(method, outcome string) {
	if m == nil || m.agentRequests == nil {
		return
	}
	m.agentRequests.WithLabelValues(method, outcome).Inc()
}

// RecordAgentRetry records a retried agent request.
func (m *Metrics) RecordAgentRetry(method string) {
	if m == nil || m.agentRetries == nil {
		return
	}
	m.agentRetries.WithLabelValues(method).Inc()
}

// RecordAgentPoll records one get_task poll.
func (m *Metrics) RecordAgentPoll(method string) {
	if m == nil || m.agentPolls == nil {
		return
	}
	m.agentPolls.WithLabelValues(method).Inc()
}

// AgentTaskStarted tracks a task wait. The returned func records the final
// state and wait duration.
func (m *Metrics) AgentTaskStarted(method string) func(state string) {
	if m == nil || m.agentTasks == nil {
		return func(string) {}
	}
	timer := NewTimer()
	m.agentTasks.Inc()
	return func(state string) {
		m.agentTasks.Dec()
		m.agentTaskWait.WithLabelValues(method, state).Observe(timer.Duration().Seconds())
	}
}

// Blobstore Metrics

// RecordBlobOperation records a blobstore operation.
func (m *Metrics) RecordBlobOperation(operation, outcome string) {
	if m == nil || m.blobOperations == nil {
		return
	}
	m.blobOperations.WithLabelValues(operation, outcome).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
