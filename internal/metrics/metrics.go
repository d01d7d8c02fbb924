package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Investigation core metrics for production monitoring, served on /metrics.
var (
	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_core_snapshots_total",
			Help: "Total number of cluster snapshots attempted",
		},
		[]string{"status"}, // status: ok/timeout/error
	)

	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubilitics_core_snapshot_duration_seconds",
			Help:    "Time to produce one ClusterSnapshot",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
	)

	IssuesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_core_issues_detected_total",
			Help: "Total number of issues classified by the detector, before debouncing",
		},
		[]string{"kind", "severity"},
	)

	IssuesEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_core_issues_emitted_total",
			Help: "Total number of issues emitted to the scheduler after debouncing/cooldown",
		},
		[]string{"kind", "severity"},
	)

	InvestigationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_core_investigations_total",
			Help: "Total number of investigations by terminal status",
		},
		[]string{"mode", "status"},
	)

	InvestigationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_core_investigation_duration_seconds",
			Help:    "Investigation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~2min
		},
		[]string{"mode"},
	)

	SchedulerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_core_scheduler_running_investigations",
			Help: "Number of investigations currently in the running state",
		},
	)

	SchedulerQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_core_scheduler_queued_investigations",
			Help: "Number of investigations currently pending dispatch",
		},
	)

	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_core_llm_requests_total",
			Help: "Total number of LLM adapter calls",
		},
		[]string{"status"}, // status: ok/timeout/rate_limited/malformed
	)

	LLMRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubilitics_core_llm_request_duration_seconds",
			Help:    "LLM adapter call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 9), // 100ms to ~51s
		},
	)

	ReportStoreSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_core_reportstore_size",
			Help: "Number of sealed reports currently held in memory",
		},
	)

	ReportStoreEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_core_reportstore_evictions_total",
			Help: "Total number of reports evicted from the in-memory archive",
		},
	)

	BusSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubilitics_core_bus_subscribers",
			Help: "Current number of active subscribers per topic",
		},
		[]string{"topic"},
	)

	BusDroppedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_core_bus_dropped_events_total",
			Help: "Total number of events dropped due to a full subscriber queue",
		},
		[]string{"topic"},
	)

	WebSocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubilitics_core_websocket_connections",
			Help: "Current number of active WebSocket connections per stream",
		},
		[]string{"stream"},
	)
)
