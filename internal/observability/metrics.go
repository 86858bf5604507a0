package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "labhub"

// PipelineMetrics collects run-level counters for the refresh pipeline.
// Each instance owns its registry so tests and schedule mode never collide
// with the global default registry.
type PipelineMetrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	rowsInserted    *prometheus.CounterVec
	rowsUpdated     *prometheus.CounterVec
	checksTotal     *prometheus.CounterVec
	quarantinedRows prometheus.Counter
	runDuration     prometheus.Histogram
	lastSuccess     prometheus.Gauge
	lastRunRows     *prometheus.GaugeVec
}

// NewPipelineMetrics creates and registers the pipeline metrics
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	m := &PipelineMetrics{
		registry: registry,

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final state",
		}, []string{"outcome"}),

		rowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_inserted_total",
			Help:      "Committed rows inserted per warehouse table",
		}, []string{"table"}),

		rowsUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_updated_total",
			Help:      "Committed dimension rows updated in place",
		}, []string{"table"}),

		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "quality_checks_total",
			Help:      "Data quality check outcomes",
		}, []string{"scope", "status"}),

		quarantinedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "quarantined_rows_total",
			Help:      "Fact rows copied to quarantine",
		}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last committed run",
		}),

		lastRunRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_rows",
			Help:      "Rows inserted per table by the most recent committed run",
		}, []string{"table"}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.rowsInserted,
		m.rowsUpdated,
		m.checksTotal,
		m.quarantinedRows,
		m.runDuration,
		m.lastSuccess,
		m.lastRunRows,
	)

	return m
}

// Registry exposes the underlying registry
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records a finished run
func (m *PipelineMetrics) ObserveRun(outcome string, duration time.Duration, committed bool) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
	if committed {
		m.lastSuccess.SetToCurrentTime()
	}
}

// AddRows records committed row counts for a table
func (m *PipelineMetrics) AddRows(table string, inserted, updated int64) {
	if inserted > 0 {
		m.rowsInserted.WithLabelValues(table).Add(float64(inserted))
	}
	if updated > 0 {
		m.rowsUpdated.WithLabelValues(table).Add(float64(updated))
	}
	m.lastRunRows.WithLabelValues(table).Set(float64(inserted))
}

// ObserveCheck records one data quality check outcome
func (m *PipelineMetrics) ObserveCheck(scope, status string) {
	m.checksTotal.WithLabelValues(scope, status).Inc()
}

// AddQuarantined records rows copied to quarantine
func (m *PipelineMetrics) AddQuarantined(rows int) {
	m.quarantinedRows.Add(float64(rows))
}

// WriteTextfile writes the current values in the node_exporter textfile format
func (m *PipelineMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler serves the registry over HTTP
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
