// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_upstream_requests_total",
			Help: "Upstream ADS-B requests by endpoint and HTTP status (0 = transport failure)",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nearby_upstream_request_duration_seconds",
			Help:    "Upstream request latency, excluding time spent waiting for a limiter token",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nearby_upstream_breaker_state",
			Help: "Circuit breaker state per upstream (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Rate limiter
	LimiterWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nearby_limiter_waits_total",
			Help: "Times a caller found the token bucket empty and slept before retrying",
		},
	)

	LimiterTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nearby_limiter_tokens",
			Help: "Tokens currently left in the outbound request bucket",
		},
	)

	// Caches
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_cache_lookups_total",
			Help: "TTL cache lookups by cache and result (hit, miss, expired)",
		},
		[]string{"cache", "result"},
	)

	// Pollers
	ActivePollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nearby_active_pollers",
			Help: "Number of live per-key polling loops",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nearby_subscribers",
			Help: "Subscribers attached to any poller",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nearby_cycle_duration_seconds",
			Help:    "Duration of one fetch-enrich-broadcast cycle",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_broadcasts_total",
			Help: "Events fanned out to a key's subscribers, by event type",
		},
		[]string{"type"},
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nearby_delivery_failures_total",
			Help: "Per-subscriber deliveries that returned an error",
		},
	)

	// Transport
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nearby_websocket_connections",
			Help: "Open websocket connections",
		},
	)

	WSFramesThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nearby_websocket_frames_throttled_total",
			Help: "Inbound frames rejected by the per-connection throttle",
		},
	)

	SnapshotsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_snapshots_published_total",
			Help: "Snapshots written to the Kafka sink by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordUpstream records one upstream round trip. status 0 means the
// request never produced a response.
func RecordUpstream(endpoint string, status int, d time.Duration) {
	UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	UpstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func RecordCacheLookup(cache, result string) {
	CacheLookups.WithLabelValues(cache, result).Inc()
}

func RecordPublish(err error) {
	if err != nil {
		SnapshotsPublished.WithLabelValues("error").Inc()
		return
	}
	SnapshotsPublished.WithLabelValues("ok").Inc()
}
