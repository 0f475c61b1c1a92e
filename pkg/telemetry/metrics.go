package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for request execution.
type Metrics struct {
	config MetricsConfig

	// Execution metrics
	executionsStarted   *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec

	// Attempt metrics
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	prechecks       *prometheus.CounterVec

	// Payment metrics
	costProbes         *prometheus.CounterVec
	paymentsPlanned    *prometheus.CounterVec
	paymentInstruments prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// Node server metrics
	nodeRequests *prometheus.CounterVec

	// System metrics
	inFlight  prometheus.Gauge
	nodeCount prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of executions started",
			},
			[]string{"kind"},
		),
		executionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of executions completed",
			},
			[]string{"kind", "outcome"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of executions including retries, in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "outcome"},
		),

		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of attempts sent to nodes",
			},
			[]string{"kind", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Round trip time of a single attempt in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retries by failure class",
			},
			[]string{"kind", "class"},
		),
		prechecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "precheck_status_total",
				Help:      "Precheck statuses returned by nodes",
			},
			[]string{"status"},
		),

		costProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_probes_total",
				Help:      "Total number of cost probes",
			},
			[]string{"result"},
		),
		paymentsPlanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_planned_total",
				Help:      "Total number of payment plans built",
			},
			[]string{"kind"},
		),
		paymentInstruments: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_instruments_signed_total",
				Help:      "Total number of per-node instruments signed",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of terminal errors by error class",
			},
			[]string{"class"},
		),

		nodeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_requests_total",
				Help:      "Requests handled by a simulated node",
			},
			[]string{"method", "status"},
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "executions_in_flight",
				Help:      "Current number of executions in progress",
			},
		),
		nodeCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "network_nodes",
				Help:      "Number of nodes in the current address book",
			},
		),
	}

	registry.MustRegister(
		m.executionsStarted,
		m.executionsCompleted,
		m.executionDuration,
		m.attempts,
		m.attemptDuration,
		m.retries,
		m.prechecks,
		m.costProbes,
		m.paymentsPlanned,
		m.paymentInstruments,
		m.errorsByClass,
		m.nodeRequests,
		m.inFlight,
		m.nodeCount,
	)

	return m, nil
}

// Execution Metrics

// RecordExecutionStarted increments the started counter and the in-flight gauge.
func (m *Metrics) RecordExecutionStarted(kind string) {
	if m == nil || m.executionsStarted == nil {
		return
	}
	m.executionsStarted.WithLabelValues(kind).Inc()
	m.inFlight.Inc()
}

// RecordExecutionCompleted records a finished execution with its outcome and duration.
func (m *Metrics) RecordExecutionCompleted(kind, outcome string, duration time.Duration) {
	if m == nil || m.executionsCompleted == nil {
		return
	}
	m.executionsCompleted.WithLabelValues(kind, outcome).Inc()
	m.executionDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
	m.inFlight.Dec()
}

// Attempt Metrics

// RecordAttempt records one round trip to a node.
func (m *Metrics) RecordAttempt(kind, outcome string, duration time.Duration) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(kind, outcome).Inc()
	m.attemptDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRetry records a retry decision and the failure class that caused it.
func (m *Metrics) RecordRetry(kind, class string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(kind, class).Inc()
}

// RecordPrecheck counts a precheck status returned by a node.
func (m *Metrics) RecordPrecheck(status string) {
	if m == nil || m.prechecks == nil {
		return
	}
	m.prechecks.WithLabelValues(status).Inc()
}

// Payment Metrics

// RecordCostProbe records a cost probe; result is "ok" or "error".
func (m *Metrics) RecordCostProbe(result string) {
	if m == nil || m.costProbes == nil {
		return
	}
	m.costProbes.WithLabelValues(result).Inc()
}

// RecordPaymentPlan records a plan of count signed per-node instruments.
func (m *Metrics) RecordPaymentPlan(kind string, count int) {
	if m == nil || m.paymentsPlanned == nil {
		return
	}
	m.paymentsPlanned.WithLabelValues(kind).Inc()
	m.paymentInstruments.Add(float64(count))
}

// Error Metrics

// RecordError records a terminal error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Node Metrics

// RecordNodeRequest counts a request served by a simulated node.
func (m *Metrics) RecordNodeRequest(method, status string) {
	if m == nil || m.nodeRequests == nil {
		return
	}
	m.nodeRequests.WithLabelValues(method, status).Inc()
}

// SetNodeCount sets the current size of the address book.
func (m *Metrics) SetNodeCount(count int) {
	if m == nil || m.nodeCount == nil {
		return
	}
	m.nodeCount.Set(float64(count))
}

// Registry exposes the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// StartMetricsServer binds the listen address and serves the registry in
// the background. It is a no-op when metrics are disabled or no address is
// set.
func (m *Metrics) StartMetricsServer(logger *Logger) error {
	if m == nil || m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}
	lis, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	logger.WithField("address", lis.Addr().String()).Info("serving metrics")
	return nil
}

// Shutdown stops the metrics server started by StartMetricsServer.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
