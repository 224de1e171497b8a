package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulseledger",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by terminal outcome.",
	}, []string{"outcome"})
	recordsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pulseledger",
		Subsystem: "pipeline",
		Name:      "records_skipped_total",
		Help:      "Raw records dropped by per-record normalization failures.",
	})
	sessionsUpserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pulseledger",
		Subsystem: "store",
		Name:      "sessions_upserted_total",
		Help:      "Session rows written (insert or overwrite).",
	})
	metricsUpserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pulseledger",
		Subsystem: "store",
		Name:      "daily_metrics_upserted_total",
		Help:      "Daily metric rows written (insert or merge).",
	})
	weeksRecomputed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pulseledger",
		Subsystem: "aggregate",
		Name:      "weeks_recomputed_total",
		Help:      "Weekly aggregate rows fully recomputed.",
	})
	lastRunGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulseledger",
		Subsystem: "pipeline",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed run.",
	})
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		recordsSkipped,
		sessionsUpserted,
		metricsUpserted,
		weeksRecomputed,
		lastRunGauge,
	)
}

// RecordRun counts a finished run under its terminal outcome label.
func RecordRun(outcome string, ts time.Time) {
	runsTotal.WithLabelValues(outcome).Inc()
	if !ts.IsZero() {
		lastRunGauge.Set(float64(ts.Unix()))
	}
}

func RecordSkipped(n int) {
	if n > 0 {
		recordsSkipped.Add(float64(n))
	}
}

func RecordSessionsUpserted(n int) {
	if n > 0 {
		sessionsUpserted.Add(float64(n))
	}
}

func RecordMetricsUpserted(n int) {
	if n > 0 {
		metricsUpserted.Add(float64(n))
	}
}

func RecordWeeksRecomputed(n int) {
	if n > 0 {
		weeksRecomputed.Add(float64(n))
	}
}
