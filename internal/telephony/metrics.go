package telephony

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telephony",
			Name:      "provider_requests_total",
			Help:      "Provider API requests by method and outcome.",
		},
		[]string{"method", "outcome"}, // outcome: ok, api_error, transport_error
	)
	providerRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "telephony",
			Name:      "provider_request_duration_seconds",
			Help:      "Provider API request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)
