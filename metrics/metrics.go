// Package metrics holds the prometheus collectors shared by the cache, the
// connection manager, the request client and the HTTP transport.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bnbvote_cache_lookups_total",
			Help: "Response cache lookups by result (hit, miss, expired).",
		},
		[]string{"cache", "result"},
	)
	CacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bnbvote_cache_evictions_total",
			Help: "Entries evicted from the response cache to stay within capacity.",
		},
		[]string{"cache"},
	)

	ConnectionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bnbvote_store_connection_attempts_total",
			Help: "Backing store connection attempts by outcome.",
		},
		[]string{"store", "outcome"},
	)
	ConnectionPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bnbvote_store_connection_phase",
			Help: "Current connection phase (0 disconnected, 1 connecting, 2 connected, 3 failed).",
		},
		[]string{"store"},
	)

	ClientAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bnbvote_client_request_attempts_total",
			Help: "Outbound request attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bnbvote_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bnbvote_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		CacheLookups,
		CacheEvictions,
		ConnectionAttempts,
		ConnectionPhase,
		ClientAttempts,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
