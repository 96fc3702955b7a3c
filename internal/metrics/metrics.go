// Package metrics exposes the process's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cronpilot",
			Subsystem: "tasks",
			Name:      "total",
			Help:      "Total number of tasks by enabled state",
		},
		[]string{"enabled"},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronpilot",
			Subsystem: "executions",
			Name:      "total",
			Help:      "Total number of task executions by status and kind",
		},
		[]string{"status", "kind"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cronpilot",
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Duration of task executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"task_name", "status"},
	)

	DispatchLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cronpilot",
			Subsystem: "engine",
			Name:      "dispatch_lag_seconds",
			Help:      "Delay between trigger fire and execution dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	ConditionSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronpilot",
			Subsystem: "conditions",
			Name:      "skips_total",
			Help:      "Total number of executions skipped by the condition evaluator",
		},
		[]string{"task_name"},
	)

	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronpilot",
			Subsystem: "executions",
			Name:      "retries_scheduled_total",
			Help:      "Total number of retries scheduled",
		},
		[]string{"task_name"},
	)

	HandlerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronpilot",
			Subsystem: "handlers",
			Name:      "invocations_total",
			Help:      "Total number of result handler invocations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cronpilot",
			Subsystem: "engine",
			Name:      "active_executions",
			Help:      "Number of executions currently dispatched and in flight",
		},
	)

	HookDebounceDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cronpilot",
			Subsystem: "hooks",
			Name:      "debounce_pending",
			Help:      "Number of hook debounce timers currently armed",
		},
	)

	FileWatchDebounceDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cronpilot",
			Subsystem: "filewatch",
			Name:      "debounce_pending",
			Help:      "Number of file watch debounce windows currently active",
		},
	)
)

// RecordExecution records the outcome and duration of one completed execution.
func RecordExecution(taskName, kind, status string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(status, kind).Inc()
	ExecutionDuration.WithLabelValues(taskName, status).Observe(durationSeconds)
}
