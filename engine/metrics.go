package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes as reported in metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted" // failed before dispatch, status untouched
)

const metricsNamespace = "collabtee"

// Metrics are the engine's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	droppedRows *prometheus.CounterVec
	approvals   *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "workflow_runs_total",
				Help:      "Workflow run attempts by outcome.",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "workflow_run_duration_seconds",
				Help:      "Duration of workflow runs that reached the executor.",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		droppedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "assembly_dropped_rows_total",
				Help:      "Datasets without a wrapped key and wrapped keys without a dataset excluded from runs.",
			},
			[]string{"kind"},
		),
		approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "approvals_total",
				Help:      "Recorded approval decisions.",
			},
			[]string{"decision"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.runsTotal, m.runDuration, m.droppedRows, m.approvals)
	}
	return m
}

func (m *Metrics) observeRun(outcome string, started time.Time, dispatched bool) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	if dispatched {
		m.runDuration.Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) observeDropped(datasets, keys int) {
	if m == nil {
		return
	}
	m.droppedRows.WithLabelValues("dataset").Add(float64(datasets))
	m.droppedRows.WithLabelValues("key").Add(float64(keys))
}

func (m *Metrics) observeApproval(decision string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(decision).Inc()
}
