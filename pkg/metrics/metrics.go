package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "artisthub_admin", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "artisthub_admin", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	// AdminOperations counts admin mutations and queries by operation and outcome
	// (ok | invalid | not_found | conflict | error).
	AdminOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "artisthub_admin", Name: "operations_total", Help: "Admin API operations by outcome."},
		[]string{"op", "result"},
	)
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "artisthub_admin", Name: "events_published_total", Help: "Domain events handed to the publisher."},
		[]string{"type", "result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(AdminOperations)
	reg.MustRegister(EventsPublished)
}
