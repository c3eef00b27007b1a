// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// Pipeline metrics
	MessagesReceived   prometheus.Counter
	DuplicatesSkipped  prometheus.Counter
	SignalsEmitted     prometheus.Counter
	AddressesParsed    *prometheus.CounterVec
	HandlerErrors      prometheus.Counter
	HandlingLatency    prometheus.Histogram
	HighestWatermark   *prometheus.GaugeVec
	StatusRecentEvents prometheus.Gauge

	// Sink metrics
	SinkDeliveries  *prometheus.CounterVec
	WebhookAttempts *prometheus.CounterVec

	// State metrics
	WatermarkFlushes *prometheus.CounterVec
	ConfigReloads    *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "signal_relay"
	}
	f := promauto.With(reg)

	return &Metrics{
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "messages_received_total",
			Help:      "Total number of inbound messages received from the source",
		}),
		DuplicatesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of inbound messages rejected as duplicates",
		}),
		SignalsEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "signals_emitted_total",
			Help:      "Total number of signals fanned out to sinks",
		}),
		AddressesParsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "addresses_parsed_total",
			Help:      "Parsed signals by contract address kind",
		}, []string{"kind"}),
		HandlerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "handler_errors_total",
			Help:      "Total number of events that failed inside the handler",
		}),
		HandlingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "handling_latency_seconds",
			Help:      "Time from dedupe check to watermark update per event",
			Buckets:   prometheus.DefBuckets,
		}),
		HighestWatermark: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedupe",
			Name:      "watermark",
			Help:      "Highest processed message id per source",
		}, []string{"source"}),
		StatusRecentEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "recent_events",
			Help:      "Number of events held in the status recent list",
		}),

		SinkDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "deliveries_total",
			Help:      "Sink deliveries by sink and result",
		}, []string{"sink", "result"}),
		WebhookAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "webhook_attempts_total",
			Help:      "Webhook POST attempts by outcome",
		}, []string{"outcome"}),

		WatermarkFlushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedupe",
			Name:      "flushes_total",
			Help:      "Watermark snapshot flushes by result",
		}, []string{"result"}),
		ConfigReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Hot configuration reloads by result",
		}, []string{"result"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// resultLabel maps an error to a "success"/"failure" label.
func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordMessageReceived increments the inbound message counter.
func RecordMessageReceived() {
	DefaultMetrics.MessagesReceived.Inc()
}

// RecordDuplicate increments the duplicate counter.
func RecordDuplicate() {
	DefaultMetrics.DuplicatesSkipped.Inc()
}

// RecordSignalEmitted records a fanned-out signal and its address kind.
func RecordSignalEmitted(addressKind string, seconds float64) {
	DefaultMetrics.SignalsEmitted.Inc()
	DefaultMetrics.AddressesParsed.WithLabelValues(addressKind).Inc()
	DefaultMetrics.HandlingLatency.Observe(seconds)
}

// RecordHandlerError increments the handler error counter.
func RecordHandlerError() {
	DefaultMetrics.HandlerErrors.Inc()
}

// UpdateWatermark sets the watermark gauge for a source.
func UpdateWatermark(source string, watermark int64) {
	DefaultMetrics.HighestWatermark.WithLabelValues(source).Set(float64(watermark))
}

// UpdateRecentEvents sets the status recent list size gauge.
func UpdateRecentEvents(n int) {
	DefaultMetrics.StatusRecentEvents.Set(float64(n))
}

// RecordSinkDelivery records one sink delivery outcome.
func RecordSinkDelivery(sink string, err error) {
	DefaultMetrics.SinkDeliveries.WithLabelValues(sink, resultLabel(err)).Inc()
}

// RecordWebhookAttempt records one webhook POST attempt outcome
// ("ok", "rejected", "retryable", "transport").
func RecordWebhookAttempt(outcome string) {
	DefaultMetrics.WebhookAttempts.WithLabelValues(outcome).Inc()
}

// RecordFlush records a watermark flush.
func RecordFlush(err error) {
	DefaultMetrics.WatermarkFlushes.WithLabelValues(resultLabel(err)).Inc()
}

// RecordReload records a config reload.
func RecordReload(err error) {
	DefaultMetrics.ConfigReloads.WithLabelValues(resultLabel(err)).Inc()
}
