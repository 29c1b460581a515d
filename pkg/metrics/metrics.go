package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Webhook metrics. outcome is one of bad_request, rejected, ignored, delivered, failed.
	WebhookRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_webhook_requests_total",
		Help: "Total number of incoming kintone webhooks grouped by outcome",
	}, []string{"outcome"})
	WebhookIgnoredByType = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_webhook_ignored_total",
		Help: "Total number of webhooks ignored because app id and hook type did not match a source app",
	}, []string{"type"})
	WebhookDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_webhook_duration_seconds",
		Help:    "Time spent handling a webhook end to end",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	// Pipeline failures keyed by error class (config, upstream, template).
	PipelineErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_pipeline_errors_total",
		Help: "Total number of webhook pipeline failures grouped by error class and step",
	}, []string{"class", "step"})

	// kintone REST calls
	KintoneRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_kintone_requests_total",
		Help: "Total number of kintone REST calls grouped by operation and result",
	}, []string{"operation", "result"})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"profile"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"profile"})

	// Delivery event sink metrics
	DeliveryEventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_delivery_events_written_total",
		Help: "Total number of delivery events written to a sink",
	}, []string{"sink"})
	DeliveryEventErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_delivery_event_errors_total",
		Help: "Total number of delivery event write failures grouped by error type",
	}, []string{"sink", "error_type"})
	DeliveryEventBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_delivery_event_breaker_state",
		Help: "Circuit breaker state per event sink (0=closed, 1=open, 2=half-open)",
	}, []string{"sink"})
	DeliveryEventsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_delivery_events_skipped_total",
		Help: "Total number of delivery events dropped because the sink circuit was open",
	}, []string{"sink"})

	// Rate limiting
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"route"})
	RateLimitClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rate_limit_clients",
		Help: "Client IPs currently tracked by the webhook rate limiter",
	})
)

func init() {
	prometheus.MustRegister(WebhookRequests)
	prometheus.MustRegister(WebhookIgnoredByType)
	prometheus.MustRegister(WebhookDuration)
	prometheus.MustRegister(PipelineErrors)
	prometheus.MustRegister(KintoneRequests)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(DeliveryEventsWritten)
	prometheus.MustRegister(DeliveryEventErrors)
	prometheus.MustRegister(DeliveryEventBreakerState)
	prometheus.MustRegister(DeliveryEventsSkipped)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(RateLimitClients)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
