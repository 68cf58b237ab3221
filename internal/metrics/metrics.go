package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished job attempts by outcome: completed, retry, failed, skipped.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packshot_jobs_total",
			Help: "Job attempts handled by workers, by outcome",
		},
		[]string{"outcome"},
	)

	JobsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packshot_jobs_enqueued_total",
			Help: "Jobs accepted through the API",
		},
	)

	SegmentationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packshot_segmentation_attempts_total",
			Help: "Segmentation provider calls, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	SchedulerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "packshot_scheduler_running",
			Help: "1 while a scheduler loop is active in this process",
		},
	)

	// Buckets: 100ms .. ~200s
	JobDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "packshot_job_duration_seconds",
			Help:    "Wall time of one job attempt",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packshot_stage_duration_seconds",
			Help:    "Wall time of individual pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"stage"},
	)

	QualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "packshot_quality_score",
			Help:    "Quality score of composed images",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)
)
