// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// APNs codec and transport metrics.
var (
	FramesEncoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apns_frames_encoded_total",
			Help: "Notification frames encoded for the gateway",
		},
	)

	PayloadsTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apns_payloads_truncated_total",
			Help: "Payloads whose alert text was shortened to fit the size limit",
		},
	)

	PayloadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apns_payload_errors_total",
			Help: "Payloads rejected before framing",
		},
		[]string{"error_code"},
	)

	PayloadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apns_payload_bytes",
			Help:    "Serialized payload size in bytes",
			Buckets: []float64{32, 64, 128, 192, 224, 256, 512, 1024, 2048},
		},
	)

	NotificationsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apns_notifications_skipped_total",
			Help: "Notifications not sent because the token is known to be invalid",
		},
	)

	FeedbackRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apns_feedback_records_total",
			Help: "Records decoded from the feedback service",
		},
	)

	TokensDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apns_tokens_deactivated_total",
			Help: "Device tokens marked inactive from feedback",
		},
	)
)
