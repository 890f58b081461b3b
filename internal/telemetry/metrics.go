package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// InstancesStartedTotal — запущенные top-level и дочерние instances.
var InstancesStartedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "durable_instances_started_total",
		Help: "Total orchestration instances created",
	},
	[]string{"orchestration"},
)

// InstancesFinishedTotal — instances, перешедшие в финальный статус.
var InstancesFinishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "durable_instances_finished_total",
		Help: "Total orchestration instances that reached a terminal status",
	},
	[]string{"orchestration", "status"},
)

// SubOrchestrationsDispatchedTotal — зафиксированные вызовы sub-orchestration.
var SubOrchestrationsDispatchedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "durable_suborchestrations_dispatched_total",
		Help: "Total sub-orchestration invocations committed",
	},
	[]string{"orchestration"},
)

// ExecutionsTotal — executions по исходу.
var ExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "durable_executions_total",
		Help: "Total orchestration executions by outcome",
	},
	[]string{"orchestration", "outcome"},
)

// ExecutionDuration — длительность одного execution (replay + commit).
var ExecutionDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "durable_execution_duration_seconds",
		Help:    "Duration of a single orchestration execution",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"orchestration"},
)

// CommitConflictsTotal — конфликты optimistic commit.
var CommitConflictsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "durable_commit_conflicts_total",
		Help: "Total execution commits rejected due to concurrent modification",
	},
)

// TerminationsTotal — запросы terminate по исходу (noop/signaled).
var TerminationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "durable_terminations_total",
		Help: "Total termination requests by outcome",
	},
	[]string{"outcome"},
)

// HTTPRequestsTotal — HTTP-запросы API.
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "durable_api_http_requests_total",
		Help: "Total HTTP requests handled by the API",
	},
	[]string{"method", "status"},
)

// ObserveExecution записывает исход и длительность execution.
func ObserveExecution(orchestration, outcome string, started time.Time) {
	ExecutionsTotal.WithLabelValues(orchestration, outcome).Inc()
	ExecutionDuration.WithLabelValues(orchestration).Observe(time.Since(started).Seconds())
}
