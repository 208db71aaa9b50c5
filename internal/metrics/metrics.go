package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransfersBegun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_tracker_transfers_begun_total",
		Help: "Total number of transfers registered",
	}, []string{"type"})

	TransfersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_tracker_transfers_completed_total",
		Help: "Total number of transfers completed",
	}, []string{"type"})

	TransfersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_tracker_transfers_failed_total",
		Help: "Total number of transfers failed",
	}, []string{"type"})

	TransfersRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfer_tracker_transfers_removed_total",
		Help: "Total number of transfers removed from the registry",
	})

	TransfersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfer_tracker_transfers_evicted_total",
		Help: "Total number of finished transfers evicted to respect the task limit",
	})

	TransferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_tracker_transfer_bytes_total",
		Help: "Total bytes reported by progress events",
	}, []string{"type"})

	TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transfer_tracker_transfer_duration_seconds",
		Help:    "Time from registration to a terminal status",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "status"})

	RegistryTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transfer_tracker_registry_tasks",
		Help: "Number of tasks currently held by the registry",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transfer_tracker_subscribers",
		Help: "Number of active snapshot subscribers",
	})

	NotificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfer_tracker_notifications_delivered_total",
		Help: "Total number of snapshots delivered to subscribers",
	})
)
