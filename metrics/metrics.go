/*
Package metrics exposes Prometheus instrumentation for engine runs.

The Collector plugs into warehouse.Engine.Observer: every finished run
increments the run counter and the row/anomaly counters for its
operation. Handler() serves the standard /metrics endpoint.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian/warehouse-engine/warehouse"
)

// Collector records run results as Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	rowsWritten *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
}

// New creates a Collector with its own registry, pre-registered with the
// standard Go and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_runs_total",
			Help: "Completed engine runs by operation.",
		}, []string{"operation"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warehouse_run_duration_seconds",
			Help:    "Engine run duration by operation.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"operation"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_rows_written_total",
			Help: "Rows written by operation.",
		}, []string{"operation"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_anomalies_total",
			Help: "Fact rows flagged as anomalous, by operation.",
		}, []string{"operation"}),
	}
	reg.MustRegister(c.runs, c.runDuration, c.rowsWritten, c.anomalies)
	return c
}

// Observe records a finished run. Wire it as Engine.Observer.
func (c *Collector) Observe(r warehouse.RunResult) {
	c.runs.WithLabelValues(r.Operation).Inc()
	c.runDuration.WithLabelValues(r.Operation).Observe(r.Duration.Seconds())
	c.rowsWritten.WithLabelValues(r.Operation).Add(float64(r.RowsWritten))
	c.anomalies.WithLabelValues(r.Operation).Add(float64(r.Anomalies))
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
