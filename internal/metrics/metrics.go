// Package metrics exposes the Prometheus instrumentation for the decisioning
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudshield",
		Name:      "decisions_total",
		Help:      "Fraud decisions emitted, by criticality tier.",
	}, []string{"criticality"})

	fallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudshield",
		Name:      "fallback_decisions_total",
		Help:      "Decisions taken on the degraded heuristic path.",
	})

	scoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudshield",
		Name:      "scoring_duration_seconds",
		Help:      "End-to-end decisioning pipeline latency.",
		Buckets:   prometheus.DefBuckets,
	})

	alertsExported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudshield",
		Name:      "alerts_exported_total",
		Help:      "High-criticality alerts exported to the alert topic.",
	})
)

// ObserveDecision records one completed pipeline invocation.
func ObserveDecision(criticality string, degraded bool, elapsed time.Duration) {
	decisionsTotal.WithLabelValues(criticality).Inc()
	if degraded {
		fallbackTotal.Inc()
	}
	scoringDuration.Observe(elapsed.Seconds())
}

// ObserveAlertExport records one alert published downstream.
func ObserveAlertExport() {
	alertsExported.Inc()
}
