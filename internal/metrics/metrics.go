package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring service health and performance
var (
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Total number of webhook deliveries received, by verification outcome",
		},
		[]string{"outcome"},
	)

	WebhooksUnsignedAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhooks_unsigned_accepted_total",
			Help: "Deliveries accepted without a signature under the permissive policy",
		},
	)

	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_processed_total",
			Help: "Queue processing outcomes (completed, retried, dead_letter)",
		},
		[]string{"outcome"},
	)

	EventProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "event_processing_duration_seconds",
			Help:    "Duration of one handler invocation",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Processing records currently queued or retrying",
		},
	)

	DeadLetterDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dead_letter_depth",
			Help: "Processing records in the dead-letter state",
		},
	)

	ReconciliationFindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_findings_total",
			Help: "Findings emitted by reconciliation sweeps, by type",
		},
		[]string{"type"},
	)

	ReconciliationSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconciliation_sweep_duration_seconds",
			Help:    "Duration of one reconciliation sweep",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(WebhooksReceivedTotal)
	prometheus.MustRegister(WebhooksUnsignedAccepted)
	prometheus.MustRegister(EventsProcessedTotal)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DeadLetterDepth)
	prometheus.MustRegister(ReconciliationFindingsTotal)
	prometheus.MustRegister(ReconciliationSweepDuration)
}
