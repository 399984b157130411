package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "facegroups"

var (
	ImagesIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "images_indexed_total",
		Help:      "Total number of images run through face extraction",
	}, []string{"status"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected in indexed images",
	})

	ExtractionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extraction_failures_total",
		Help:      "Images skipped because face extraction failed",
	}, []string{"source"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	ClusteringRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clustering_runs_total",
		Help:      "Clustering runs by mode and outcome",
	}, []string{"mode", "status"})

	ClusteringDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "clustering_duration_seconds",
		Help:      "Wall time of clustering runs",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"mode"})

	ClustersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clusters_created_total",
		Help:      "Clusters created by clustering runs",
	}, []string{"mode"})

	MatchesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_recorded_total",
		Help:      "Face matches written to the ledger",
	}, []string{"mode"})

	ThumbnailFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "thumbnail_failures_total",
		Help:      "Face thumbnails that could not be produced",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Number of pending ingest tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
