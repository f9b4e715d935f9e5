// Package metrics exposes Prometheus counters and gauges for the workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal counts rule evaluations by outcome.
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logalert",
		Name:      "evaluations_total",
		Help:      "Rule evaluations by result (matched, empty, skipped, error).",
	}, []string{"result"})

	// AlertsTotal counts persisted alert records by delivery status.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logalert",
		Name:      "alerts_total",
		Help:      "Persisted alerts by delivery status (sent, failed).",
	}, []string{"status"})

	// NotifyAttemptsTotal counts webhook delivery attempts.
	NotifyAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logalert",
		Name:      "notify_attempts_total",
		Help:      "Webhook delivery attempts including retries.",
	})

	// NotifyFailuresTotal counts deliveries that failed after all retries.
	NotifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logalert",
		Name:      "notify_failures_total",
		Help:      "Webhook deliveries that exhausted all retry attempts.",
	})

	// CleanupRunsTotal counts retention sweeps by outcome.
	CleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logalert",
		Name:      "cleanup_runs_total",
		Help:      "Retention cleanup sweeps by status (success, failed).",
	}, []string{"status"})

	// RunningRules tracks rules with an active evaluation loop.
	RunningRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "logalert",
		Name:      "running_rules",
		Help:      "Rules currently owned by a scheduler goroutine.",
	})

	// InflightEvaluations tracks evaluations holding a concurrency slot.
	InflightEvaluations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "logalert",
		Name:      "inflight_evaluations",
		Help:      "Evaluations currently holding a concurrency slot.",
	})
)
