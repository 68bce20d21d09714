// Package metrics registers the Prometheus collectors the executor,
// scheduler, and dispatcher publish through the admin HTTP API's /metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloacina",
		Subsystem: "executor",
		Name:      "tasks_claimed_total",
		Help:      "Total number of task executions claimed by this worker.",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloacina",
		Subsystem: "executor",
		Name:      "tasks_completed_total",
		Help:      "Total number of task executions that completed successfully.",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloacina",
		Subsystem: "executor",
		Name:      "tasks_failed_total",
		Help:      "Total number of task executions recorded as failed (including retries that will re-run).",
	})

	TasksMarkedReady = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloacina",
		Subsystem: "scheduler",
		Name:      "tasks_marked_ready_total",
		Help:      "Total number of task executions transitioned to ready.",
	})

	TasksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloacina",
		Subsystem: "scheduler",
		Name:      "tasks_skipped_total",
		Help:      "Total number of task executions skipped because their trigger rule was false.",
	})

	PipelinesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloacina",
		Subsystem: "scheduler",
		Name:      "pipelines_closed_total",
		Help:      "Total number of pipeline executions closed, labeled by final status.",
	}, []string{"status"})

	DispatcherWakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloacina",
		Subsystem: "dispatcher",
		Name:      "wakes_total",
		Help:      "Total number of times a dispatcher variant returned from WaitForWork.",
	}, []string{"variant"})

	OrphansRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloacina",
		Subsystem: "recovery",
		Name:      "orphans_total",
		Help:      "Total number of orphaned task executions handled by the recovery service, labeled by outcome (reset|abandoned).",
	}, []string{"outcome"})
)
