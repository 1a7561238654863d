package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerTriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echobot",
		Subsystem: "scheduler",
		Name:      "triggers_fired_total",
		Help:      "Total scheduler triggers fired, labelled by trigger name.",
	}, []string{"trigger"})

	SchedulerTriggerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echobot",
		Subsystem: "scheduler",
		Name:      "trigger_errors_total",
		Help:      "Total trigger callbacks that returned an error or panicked.",
	}, []string{"trigger"})

	// ─── Task queue ──────────────────────────────────────────────────────────────

	QueueTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echobot",
		Subsystem: "queue",
		Name:      "tasks_processed_total",
		Help:      "Total tasks processed, labelled by type and outcome.",
	}, []string{"type", "outcome"})

	QueueTaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "echobot",
		Subsystem: "queue",
		Name:      "task_duration_seconds",
		Help:      "End-to-end handler execution time in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
	}, []string{"type"})

	QueueRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echobot",
		Subsystem: "queue",
		Name:      "retries_total",
		Help:      "Total task retry attempts.",
	}, []string{"type"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "echobot",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Open (pending/running/retry) tasks at last poll.",
	})

	// ─── Pipeline ────────────────────────────────────────────────────────────────

	BlocksRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "echobot",
		Subsystem: "pipeline",
		Name:      "blocks_recorded_total",
		Help:      "Total capture windows recorded successfully.",
	})

	DigestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "echobot",
		Subsystem: "pipeline",
		Name:      "digests_created_total",
		Help:      "Total daily digests generated.",
	})

	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echobot",
		Subsystem: "pipeline",
		Name:      "emails_sent_total",
		Help:      "Total outbound emails, labelled by scope (digest or block).",
	}, []string{"scope"})

	EmailsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echobot",
		Subsystem: "pipeline",
		Name:      "emails_suppressed_total",
		Help:      "Sends skipped because a valid sent-marker existed.",
	}, []string{"scope"})
)
