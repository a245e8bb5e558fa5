// Package metrics declares the Prometheus instruments shared by the executor,
// the subscribers and the loopback queue, and a collector that refreshes the
// gauges derived from the stores.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded on TasksProcessed.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
	OutcomeFatal   = "fatal"
)

var (
	// TasksProcessed counts task executions by outcome and payload group.
	// Labels:
	//   - outcome: "success", "retry", "dropped" or "fatal"
	//   - group: payload group ("negotiation", "transfer")
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepq_tasks_processed_total",
		Help: "The total number of executed tasks by outcome",
	}, []string{"outcome", "group"})

	// TaskDuration tracks handler latency in seconds.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stepq_task_duration_seconds",
		Help:    "Duration of task handler execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"group"})

	// BrokerMessages counts broker deliveries by their final disposition.
	// Labels:
	//   - subject_prefix: first subject token ("transfers", "negotiations", ...)
	//   - disposition: "ack", "nak" or "term"
	BrokerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepq_broker_messages_total",
		Help: "Broker messages by disposition",
	}, []string{"subject_prefix", "disposition"})

	// StreamDepth is the length of each broker stream, refreshed by Collector.
	StreamDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stepq_stream_depth",
		Help: "Number of entries in each broker stream",
	}, []string{"stream"})

	// TaskBacklog is the number of stored tasks, refreshed by Collector.
	TaskBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stepq_task_backlog",
		Help: "Number of tasks waiting in the task store",
	})

	// LoopbackQueued is the number of changes waiting in the loopback queue.
	LoopbackQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stepq_loopback_queued",
		Help: "Number of state changes waiting in the loopback queue",
	})
)
