package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts worker HTTP requests by route, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// ProveJobsTotal counts proving pipelines by mode and outcome (success/failed).
	ProveJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prove_jobs_total",
			Help: "Total number of proof jobs handled by the worker.",
		},
		[]string{"mode", "status"},
	)

	// DispatchCyclesTotal counts coordinator cycles by result (idle/dispatched/error).
	DispatchCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_cycles_total",
			Help: "Total number of coordinator dispatch cycles.",
		},
		[]string{"result"},
	)

	// IsLeader is 1 while this coordinator holds leadership and runs the dispatch loop.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "is_leader",
			Help: "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)

	TransferLanesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transfer_lanes_active",
			Help: "Number of chunk-transfer lanes currently holding a concurrency permit.",
		},
	)

	TransferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_bytes_total",
			Help: "Bytes moved between the worker and the blob store.",
		},
		[]string{"direction"},
	)

	TransferChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_chunks_total",
			Help: "Chunks moved between the worker and the blob store.",
		},
		[]string{"direction"},
	)

	ComputeInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compute_in_flight",
			Help: "Number of prover calls currently running in the offload pool.",
		},
	)

	ComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compute_duration_seconds",
			Help:    "Wall time of prover calls.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"mode"},
	)

	// MultipartAbortedTotal counts aborted multipart sessions by reason (failure/stale).
	MultipartAbortedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multipart_uploads_aborted_total",
			Help: "Multipart upload sessions aborted by the worker.",
		},
		[]string{"reason"},
	)
)
