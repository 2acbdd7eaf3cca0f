package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capirelay_events_received_total",
			Help: "Total number of raw events received by source.",
		},
		[]string{"source"}, // http, nsq, kafka, cli
	)

	EventsTransformedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capirelay_events_transformed_total",
			Help: "Total number of gateway events produced, by outcome.",
		},
		[]string{"outcome"}, // queued, empty, skipped_disabled, skipped_no_credentials
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capirelay_queue_depth",
			Help: "Number of events waiting in the delivery queue.",
		},
	)

	QueueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "capirelay_queue_dropped_total",
			Help: "Total number of events dropped from the head of a full queue.",
		},
	)

	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capirelay_batches_total",
			Help: "Total number of dispatched batches by outcome.",
		},
		[]string{"outcome"}, // delivered, requeued, dropped
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capirelay_retries_total",
			Help: "Total number of requeued batches by reason.",
		},
		[]string{"reason"},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capirelay_dispatch_latency_seconds",
			Help:    "Latency of batch POSTs to the gateway.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConfigFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capirelay_config_fetches_total",
			Help: "Total number of gateway settings fetches by outcome.",
		},
		[]string{"outcome"}, // enabled, disabled, failed
	)

	GatewayEnabled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capirelay_gateway_enabled",
			Help: "1 when the last successful settings fetch reported the gateway enabled.",
		},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capirelay_dead_letters_total",
			Help: "Total number of events handed to the dead letter sink by reason.",
		},
		[]string{"reason"}, // overflow, non_retryable
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsReceivedTotal,
		EventsTransformedTotal,
		QueueDepth,
		QueueDroppedTotal,
		BatchesTotal,
		RetriesTotal,
		DispatchLatency,
		ConfigFetchesTotal,
		GatewayEnabled,
		DeadLettersTotal,
	)
}

func RecordEventReceived(source string) {
	EventsReceivedTotal.WithLabelValues(source).Inc()
}

func RecordTransform(outcome string, n int) {
	EventsTransformedTotal.WithLabelValues(outcome).Add(float64(n))
}

func UpdateQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

func RecordQueueDropped(n int) {
	QueueDroppedTotal.Add(float64(n))
}

// RecordBatch counts a finished dispatch attempt. Latency is skipped when
// zero, which means the request never left the process.
func RecordBatch(outcome string, latency time.Duration) {
	BatchesTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		DispatchLatency.Observe(latency.Seconds())
	}
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordConfigFetch(outcome string) {
	ConfigFetchesTotal.WithLabelValues(outcome).Inc()
}

func SetGatewayEnabled(enabled bool) {
	if enabled {
		GatewayEnabled.Set(1)
		return
	}
	GatewayEnabled.Set(0)
}

func RecordDeadLetters(reason string, n int) {
	DeadLettersTotal.WithLabelValues(reason).Add(float64(n))
}
