package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lw",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"stream_id"})

	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lw",
		Name:      "frames_ingested_total",
		Help:      "Frames captured, uploaded and queued by the ingestor",
	}, []string{"stream_id"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lw",
		Name:      "frames_dropped_total",
		Help:      "Frames skipped by the worker, by reason",
	}, []string{"reason"})

	VehiclesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lw",
		Name:      "vehicles_detected_total",
		Help:      "Total number of vehicle detections",
	}, []string{"stream_id"})

	Intrusions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lw",
		Name:      "intrusions_total",
		Help:      "Total number of lane intrusion events",
	}, []string{"stream_id"})

	ActiveTracks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lw",
		Name:      "active_tracks",
		Help:      "Vehicles matched or created in the last processed frame",
	}, []string{"stream_id"})

	LaneBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lw",
		Name:      "lane_builds_total",
		Help:      "Lane set builds by resulting method",
	}, []string{"method"})

	LaneFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lw",
		Name:      "lane_fallbacks_total",
		Help:      "Automatic lane derivations that fell back to manual partitioning",
	}, []string{"reason"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lw",
		Name:      "inference_duration_seconds",
		Help:      "Duration of frame processing stages",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lw",
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lw",
		Name:      "active_streams",
		Help:      "Number of currently active video streams",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lw",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lw",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
