package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	HistoryRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphedit_history_recorded_total",
		Help: "Total number of history entries recorded, by kind.",
	}, []string{"kind"})

	HistoryStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphedit_history_steps_total",
		Help: "Total number of single undo/redo steps, by direction and result.",
	}, []string{"direction", "result"})

	HistoryStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graphedit_history_step_seconds",
		Help:    "Time spent applying one undo/redo step including its effect callback.",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction", "kind"})

	HistoryJumpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphedit_history_jumps_total",
		Help: "Total number of jump-to-entry requests, by direction and result.",
	}, []string{"direction", "result"})

	HistoryBusyRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphedit_history_busy_rejected_total",
		Help: "Total number of history operations rejected because another was in flight.",
	})

	HistoryListenerPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphedit_history_listener_panics_total",
		Help: "Total number of recovered panics raised by history listeners.",
	})

	HistoryUndoDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graphedit_history_undo_depth",
		Help: "Current number of entries on the undo stack.",
	})

	HistoryRedoDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graphedit_history_redo_depth",
		Help: "Current number of entries on the redo stack.",
	})

	GraphEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graphedit_graph_entities_total",
		Help: "Total number of entities in the live graph.",
	})

	GraphConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graphedit_graph_connections_total",
		Help: "Total number of connections in the live graph.",
	})

	StoreWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graphedit_store_write_seconds",
		Help:    "Latency of workspace store writes.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	StoreRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphedit_store_retry_total",
		Help: "Total number of workspace store retries after lock errors.",
	})

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphedit_api_rate_limited_total",
		Help: "Total number of HTTP API requests rejected by the rate limiter.",
	})
)
