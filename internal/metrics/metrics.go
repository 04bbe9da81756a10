package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks queued operations by status.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "posrelay_queue_depth",
			Help: "Number of queued operations by status",
		},
		[]string{"status"},
	)

	// OperationsEnqueued counts operations accepted into the queue.
	OperationsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posrelay_operations_enqueued_total",
			Help: "Total operations enqueued",
		},
	)

	// OperationsSynced counts operations delivered to the backend.
	OperationsSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posrelay_operations_synced_total",
			Help: "Total operations successfully delivered",
		},
	)

	// OperationsFailed counts operations that exhausted their retries.
	OperationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posrelay_operations_failed_total",
			Help: "Total operations parked as failed",
		},
	)

	// SyncPasses counts drain passes over the queue.
	SyncPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posrelay_sync_passes_total",
			Help: "Total queue drain passes",
		},
	)

	// RemoteRetries counts retry sleeps taken by the invoker.
	RemoteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posrelay_remote_retries_total",
			Help: "Total remote call retries",
		},
		[]string{"command"},
	)

	// PersistErrors counts best-effort storage writes that failed.
	PersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posrelay_persist_errors_total",
			Help: "Total queue persistence failures",
		},
	)
)
