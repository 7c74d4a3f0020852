// Package metrics exposes Prometheus collectors for webmention lookups and sends.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup outcomes.
const (
	OutcomeChecked   = "checked"
	OutcomeThrottled = "throttled"
	OutcomeFailed    = "failed"
	OutcomeSent      = "sent"
	OutcomeNoTarget  = "no_endpoint"
)

// Directions for throttle accounting.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

var (
	lookupsTotal               *prometheus.CounterVec
	mentionsDiscoveredTotal    *prometheus.CounterVec
	throttledTotal             *prometheus.CounterVec
	outgoingQueuedTotal        prometheus.Counter
	sendsTotal                 *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	robotsFallbacksTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		lookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmentions_lookups_total",
				Help: "Total number of incoming mention lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		mentionsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmentions_discovered_total",
				Help: "Total number of new incoming mentions, labeled by type.",
			},
			[]string{"type"},
		)

		throttledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmentions_throttled_total",
				Help: "Total number of checks skipped by the throttle policy, labeled by direction.",
			},
			[]string{"direction"},
		)

		outgoingQueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webmentions_outgoing_queued_total",
				Help: "Total number of outgoing targets queued for delivery.",
			},
		)

		sendsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmentions_sends_total",
				Help: "Total number of webmention send attempts, labeled by target site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webmentions_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmentions_robots_fallbacks_total",
				Help: "Total number of robots.txt fetches that timed out and were treated as allow-all, labeled by site.",
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "http:" + rawURL
	}
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveLookup counts one incoming lookup decision.
func ObserveLookup(outcome string) {
	Init()
	lookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDiscovered counts a newly cached incoming mention.
func ObserveDiscovered(mentionType string) {
	Init()
	mentionsDiscoveredTotal.WithLabelValues(mentionType).Inc()
}

// ObserveThrottled counts a check skipped by the throttle policy.
func ObserveThrottled(direction string) {
	Init()
	throttledTotal.WithLabelValues(direction).Inc()
}

// ObserveQueued counts outgoing targets added to the ledger.
func ObserveQueued(n int) {
	if n <= 0 {
		return
	}
	Init()
	outgoingQueuedTotal.Add(float64(n))
}

// ObserveSend counts a send attempt against target.
func ObserveSend(target, outcome string) {
	Init()
	sendsTotal.WithLabelValues(SanitizeSite(target), outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt that could not be read for host.
func ObserveRobotsFallback(host string) {
	Init()
	robotsFallbacksTotal.WithLabelValues(SanitizeSite(host)).Inc()
}
