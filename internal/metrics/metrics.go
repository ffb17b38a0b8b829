// File: internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the fulfillment service
type Metrics struct {
	// Pipeline metrics
	BurnsProcessedTotal     *prometheus.CounterVec
	DuplicatesSkippedTotal  prometheus.Counter
	DataQualityFlagsTotal   prometheus.Counter
	ProcessingDuration      prometheus.Histogram
	WatermarkBlock          prometheus.Gauge
	PipelineErrorsTotal     *prometheus.CounterVec

	// Charity reconciliation metrics
	SnapshotsGeneratedTotal prometheus.Counter
	SnapshotAnomaliesTotal  prometheus.Counter

	// Notification metrics
	NotificationsSentTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BurnsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fof_burns_processed_total",
				Help: "Total number of burn events processed",
			},
			[]string{"rarity", "status"},
		),

		DuplicatesSkippedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fof_duplicates_skipped_total",
				Help: "Total number of redelivered events skipped by the idempotency check",
			},
		),

		DataQualityFlagsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fof_data_quality_flags_total",
				Help: "Total number of records flagged for review due to unknown rarity",
			},
		),

		ProcessingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fof_event_processing_duration_seconds",
				Help:    "Time spent processing individual burn events",
				Buckets: prometheus.DefBuckets,
			},
		),

		WatermarkBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fof_watermark_block",
				Help: "Highest fully processed block number",
			},
		),

		PipelineErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fof_pipeline_errors_total",
				Help: "Total number of pipeline errors",
			},
			[]string{"stage"},
		),

		SnapshotsGeneratedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fof_charity_snapshots_total",
				Help: "Total number of charity reconciliation snapshots generated",
			},
		),

		SnapshotAnomaliesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fof_charity_snapshot_anomalies_total",
				Help: "Total number of snapshots whose discrepancy exceeded tolerance",
			},
		),

		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fof_notifications_sent_total",
				Help: "Total number of claim notification deliveries by outcome",
			},
			[]string{"channel", "status"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fof_http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fof_http_request_duration_seconds",
				Help:    "HTTP API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// ObserveProcessing records the duration of one event application
func (m *Metrics) ObserveProcessing(start time.Time) {
	m.ProcessingDuration.Observe(time.Since(start).Seconds())
}
