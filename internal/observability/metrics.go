// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"position-ledger/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Build metrics
	PositionsBuilt   *prometheus.CounterVec
	BuildDiagnostics *prometheus.CounterVec
	GroupsRebuilt    *prometheus.CounterVec

	// Integrity metrics
	ValidationsTotal *prometheus.CounterVec
	IssuesDetected   *prometheus.CounterVec
	RepairsTotal     *prometheus.CounterVec

	// Batch metrics
	BatchRunsTotal *prometheus.CounterVec
	BatchDuration  prometheus.Histogram
	Notifications  *prometheus.CounterVec

	// Health metrics
	LastSuccessfulBatch   prometheus.Gauge
	LastSuccessfulRebuild prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "position_ledger"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Build metrics
		PositionsBuilt: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "positions_built_total",
			Help:      "Total number of positions built by status",
		}, []string{"status"}),
		BuildDiagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "diagnostics_total",
			Help:      "Total number of build diagnostics by code",
		}, []string{"code"}),
		GroupsRebuilt: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "groups_rebuilt_total",
			Help:      "Total number of account/instrument rebuilds by result",
		}, []string{"result"}),

		// Integrity metrics
		ValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "validations_total",
			Help:      "Total number of validation results by check type and status",
		}, []string{"check_type", "status"}),
		IssuesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "issues_detected_total",
			Help:      "Total number of integrity issues by type and severity",
		}, []string{"issue_type", "severity"}),
		RepairsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "repairs_total",
			Help:      "Total number of repair attempts by method and status",
		}, []string{"method", "status"}),

		// Batch metrics
		BatchRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Total number of batch validation runs by outcome",
		}, []string{"outcome"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Batch validation duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "notifications_total",
			Help:      "Total number of attention notifications by result",
		}, []string{"result"}),

		// Health metrics
		LastSuccessfulBatch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_batch_timestamp",
			Help:      "Unix timestamp of last completed batch validation",
		}),
		LastSuccessfulRebuild: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_rebuild_timestamp",
			Help:      "Unix timestamp of last successful full rebuild",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving gatherer.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordPositionBuilt counts one built position.
func (m *Metrics) RecordPositionBuilt(status domain.PositionStatus) {
	m.PositionsBuilt.WithLabelValues(string(status)).Inc()
}

// RecordDiagnostic counts one build diagnostic.
func (m *Metrics) RecordDiagnostic(code string) {
	m.BuildDiagnostics.WithLabelValues(code).Inc()
}

// RecordGroupRebuild counts one group rebuild.
func (m *Metrics) RecordGroupRebuild(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.GroupsRebuilt.WithLabelValues(result).Inc()
}

// RecordValidation counts a validation result and its issues.
func (m *Metrics) RecordValidation(checkType string, status domain.ValidationStatus, issues []domain.IntegrityIssue) {
	m.ValidationsTotal.WithLabelValues(checkType, string(status)).Inc()
	for _, i := range issues {
		m.IssuesDetected.WithLabelValues(string(i.Type), string(i.Severity)).Inc()
	}
}

// RecordRepair counts one repair attempt.
func (m *Metrics) RecordRepair(method string, status domain.RepairStatus) {
	if method == "" {
		method = "none"
	}
	m.RepairsTotal.WithLabelValues(method, string(status)).Inc()
}

// RecordBatchRun records a finished batch run.
func (m *Metrics) RecordBatchRun(run domain.BatchRun, duration time.Duration) {
	outcome := "completed"
	if run.TimedOut {
		outcome = "timed_out"
	}
	m.BatchRunsTotal.WithLabelValues(outcome).Inc()
	m.BatchDuration.Observe(duration.Seconds())
	m.LastSuccessfulBatch.Set(float64(time.Now().Unix()))
}

// RecordBatchFailure counts a batch run that aborted with an error.
func (m *Metrics) RecordBatchFailure() {
	m.BatchRunsTotal.WithLabelValues("failed").Inc()
}

// RecordNotification counts one notification attempt.
func (m *Metrics) RecordNotification(err error) {
	result := "sent"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// RecordRebuildAll marks a successful full rebuild.
func (m *Metrics) RecordRebuildAll() {
	m.LastSuccessfulRebuild.Set(float64(time.Now().Unix()))
}
