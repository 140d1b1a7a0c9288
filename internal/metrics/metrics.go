package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerificationsStarted counts start and retry calls by outcome.
	VerificationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kyc_verifications_started_total",
		Help: "Verification start and retry attempts by kind and result",
	}, []string{"kind", "result"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kyc_status_transitions_total",
		Help: "Committed verification status transitions",
	}, []string{"from", "to"})

	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kyc_webhooks_received_total",
		Help: "Provider webhook deliveries by outcome",
	}, []string{"outcome"})

	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kyc_provider_request_duration_seconds",
		Help:    "Latency of verification provider calls by result",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	EventSinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kyc_event_sink_failures_total",
		Help: "Failed deliveries to downstream event sinks",
	}, []string{"sink"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kyc_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func ObserveProviderRequest(result string, d time.Duration) {
	ProviderRequestDuration.WithLabelValues(result).Observe(d.Seconds())
}
