package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostcore_webhooks_total",
		Help: "Inbound payment gateway notifications by outcome.",
	}, []string{"outcome"})

	PaymentSettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostcore_payment_settlements_total",
		Help: "Payments moved out of pending, by resulting status.",
	}, []string{"status"})

	DomainActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostcore_domain_actions_total",
		Help: "Domain provisioning actions by action and outcome.",
	}, []string{"action", "outcome"})

	RateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostcore_rate_limit_decisions_total",
		Help: "Rate limiter calls by action and outcome.",
	}, []string{"action", "outcome"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hostcore_gateway_request_duration_seconds",
		Help:    "Latency of outbound payment gateway and registrar calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
