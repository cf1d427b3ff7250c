// Package metrics records job runs as Prometheus metrics. A batch job does not live long enough to be scraped,
// so the registry is written to a textfile for the node exporter after every run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mit.edu/dsg/topsales/pipeline"
)

const namespace = "topsales"

// Label names.
const (
	LabelEngine  = "engine"
	LabelTable   = "table"
	LabelOutcome = "outcome"
)

// Outcomes of a run.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the collectors of one process in their own registry.
type Metrics struct {
	registry     *prometheus.Registry
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	rowsRead     *prometheus.CounterVec
	rowsFiltered *prometheus.CounterVec
	rowsWritten  *prometheus.CounterVec
	lastSuccess  *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of runs by outcome",
		}, []string{LabelEngine, LabelOutcome}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{LabelEngine, LabelOutcome}),
		rowsRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rows_read_total",
			Help:      "Total number of source rows read",
		}, []string{LabelEngine, LabelTable}),
		rowsFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rows_filtered_total",
			Help:      "Total number of source rows dropped by the data quality policy",
		}, []string{LabelEngine, LabelTable}),
		rowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_rows_written_total",
			Help:      "Total number of output rows written",
		}, []string{LabelEngine, LabelTable}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}, []string{LabelEngine, LabelTable}),
	}
}

// Registry exposes the collectors for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records the outcome of one run. result is nil for failed runs.
func (m *Metrics) ObserveRun(engine string, job pipeline.Job, result *pipeline.Result, duration time.Duration, now time.Time) {
	outcome := OutcomeSuccess
	if result == nil {
		outcome = OutcomeFailure
	}
	m.runs.WithLabelValues(engine, outcome).Inc()
	m.runDuration.WithLabelValues(engine, outcome).Observe(duration.Seconds())
	if result == nil {
		return
	}

	for _, src := range []struct {
		table string
		stats pipeline.SourceStats
	}{
		{job.Orders.String(), result.Orders},
		{job.OrderItems.String(), result.OrderItems},
	} {
		m.rowsRead.WithLabelValues(engine, src.table).Add(float64(src.stats.RowsRead))
		m.rowsFiltered.WithLabelValues(engine, src.table).Add(float64(src.stats.RowsFiltered))
	}
	output := result.Output.String()
	m.rowsWritten.WithLabelValues(engine, output).Add(float64(result.RowsWritten))
	m.lastSuccess.WithLabelValues(engine, output).Set(float64(now.Unix()))
}

// WriteToTextfile writes every metric to path in the text exposition format, replacing the file atomically.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
