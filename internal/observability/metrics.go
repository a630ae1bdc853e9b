package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_webhook_deliveries_total",
			Help: "Webhook delivery attempts by resulting status",
		},
		[]string{"status"},
	)

	WebhookDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erp_webhook_delivery_duration_seconds",
			Help:    "Outbound webhook request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "erp_webhook_outbox_claimed_total",
			Help: "Outbox messages claimed by the dispatcher",
		},
	)

	AuditEventsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_audit_events_total",
			Help: "Audit events written by action",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal,
		WebhookDeliveriesTotal, WebhookDeliveryDuration, OutboxClaimed,
		AuditEventsWritten,
	)
}

// NewMetricsServer returns a server exposing the default registry on /metrics
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
