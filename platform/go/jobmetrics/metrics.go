// Package jobmetrics records migration run metrics on a private registry that is
// pushed to a Prometheus Pushgateway once the batch job ends.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RunMetrics holds the collectors of one migration run.
type RunMetrics struct {
	Registry *prometheus.Registry

	rowsCopied   *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	runs         *prometheus.CounterVec
	duration     prometheus.Gauge
	lastSuccess  prometheus.Gauge
	tenantsTotal prometheus.Gauge
}

func NewRunMetrics() *RunMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &RunMetrics{
		Registry: reg,
		rowsCopied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolspace",
			Subsystem: "migration",
			Name:      "rows_copied_total",
			Help:      "Rows copied from the shared schema into tenant namespaces.",
		}, []string{"table"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolspace",
			Subsystem: "migration",
			Name:      "item_outcomes_total",
			Help:      "Per-item outcomes by step kind and status.",
		}, []string{"kind", "status"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolspace",
			Subsystem: "migration",
			Name:      "runs_total",
			Help:      "Migration runs by final outcome.",
		}, []string{"outcome"}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "schoolspace",
			Subsystem: "migration",
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last migration run.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "schoolspace",
			Subsystem: "migration",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last committed migration run.",
		}),
		tenantsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "schoolspace",
			Subsystem: "migration",
			Name:      "tenants",
			Help:      "Tenants processed by the last run.",
		}),
	}
}

func (m *RunMetrics) ObserveRows(table string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.rowsCopied.WithLabelValues(table).Add(float64(rows))
}

func (m *RunMetrics) ObserveOutcome(kind, status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(kind, status).Inc()
}

func (m *RunMetrics) ObserveTenants(n int) {
	if m == nil {
		return
	}
	m.tenantsTotal.Set(float64(n))
}

// ObserveRun records the final outcome; committed runs also bump the success timestamp.
func (m *RunMetrics) ObserveRun(outcome string, committed bool, elapsed time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Set(elapsed.Seconds())
	if committed {
		m.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}
