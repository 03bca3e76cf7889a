// Package metrics exposes Prometheus collectors for export runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the export pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Pagination
	pagesWritten   *prometheus.CounterVec
	recordsWritten *prometheus.CounterVec
	pageDuration   *prometheus.HistogramVec
	searchFailures *prometheus.CounterVec

	// Consolidation
	consolidations   *prometheus.CounterVec
	consolidatedRows *prometheus.CounterVec

	// Step execution
	stepAttempts *prometheus.CounterVec
	runs         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		pagesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_export_pages_written_total",
				Help: "Total number of page files written",
			},
			[]string{"format"},
		),

		recordsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_export_records_written_total",
				Help: "Total number of records written to page files",
			},
			[]string{"format"},
		),

		pageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_export_page_duration_seconds",
				Help:    "Time to query and write one page",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		),

		searchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_export_search_failures_total",
				Help: "Total number of failed search calls by error code",
			},
			[]string{"code"},
		),

		consolidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_export_consolidations_total",
				Help: "Total number of consolidations by outcome",
			},
			[]string{"format", "result"},
		),

		consolidatedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_export_consolidated_rows_total",
				Help: "Total number of rows written to consolidated files",
			},
			[]string{"format"},
		),

		stepAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_export_step_attempts_total",
				Help: "Total number of step attempts by outcome",
			},
			[]string{"step", "outcome"},
		),

		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_export_runs_total",
				Help: "Total number of runs by terminal state",
			},
			[]string{"state"},
		),
	}
}

// RecordPage records one written page.
func (m *Metrics) RecordPage(format string, records int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pagesWritten.WithLabelValues(format).Inc()
	m.recordsWritten.WithLabelValues(format).Add(float64(records))
	m.pageDuration.WithLabelValues(format).Observe(elapsed.Seconds())
}

// RecordSearchFailure records a failed search call.
func (m *Metrics) RecordSearchFailure(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unclassified"
	}
	m.searchFailures.WithLabelValues(code).Inc()
}

// RecordConsolidation records a consolidation outcome.
func (m *Metrics) RecordConsolidation(format string, rows int64, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.consolidations.WithLabelValues(format, result).Inc()
	if err == nil {
		m.consolidatedRows.WithLabelValues(format).Add(float64(rows))
	}
}

// RecordStepAttempt records one attempt of a named step.
func (m *Metrics) RecordStepAttempt(step string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.stepAttempts.WithLabelValues(step, outcome).Inc()
}

// RecordRun records a run reaching a terminal state.
func (m *Metrics) RecordRun(state string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state).Inc()
}
