// Package metrics exposes Prometheus collectors for the follower audit service.
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

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchRateLimitedTotal      *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	fetchBackoffSeconds        *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	auditActiveSessions        prometheus.Gauge
	auditSessionsTotal         *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followeraudit_fetch_attempts_total",
				Help: "Fetch attempts, labeled by host and outcome (ok, rate_limited, http_error, network_error).",
			},
			[]string{"host", "outcome"},
		)

		fetchRateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followeraudit_fetch_rate_limited_total",
				Help: "Fetches that exhausted every attempt on 429 responses.",
			},
			[]string{"host"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followeraudit_fetch_retries_total",
				Help: "Retries scheduled by the fetch policy, labeled by cause.",
			},
			[]string{"cause"},
		)

		fetchBackoffSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "followeraudit_fetch_backoff_seconds",
				Help:    "Backoff waits inserted before a retry.",
				Buckets: []float64{1, 2, 5, 10, 15, 30},
			},
			[]string{"cause"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followeraudit_fetch_bytes_total",
				Help: "Response bytes downloaded, labeled by host.",
			},
			[]string{"host"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "followeraudit_rate_limit_delays_seconds",
				Help:    "Histogram of client-side rate limiter waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of control API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of control API latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		auditActiveSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "followeraudit_active_sessions",
				Help: "Audit sessions currently running or paused.",
			},
		)

		auditSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followeraudit_sessions_total",
				Help: "Finished audit sessions, labeled by final state.",
			},
			[]string{"state"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one fetch attempt and its downloaded bytes.
func ObserveFetchAttempt(rawURL, outcome string, bytesFetched int) {
	Init()
	host := SanitizeHost(rawURL)
	fetchAttemptsTotal.WithLabelValues(host, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveRetry records a scheduled retry and the backoff in front of it.
func ObserveRetry(cause string, backoff time.Duration) {
	Init()
	fetchRetriesTotal.WithLabelValues(cause).Inc()
	fetchBackoffSeconds.WithLabelValues(cause).Observe(backoff.Seconds())
}

// ObserveRateLimitExhausted counts a fetch that gave up on 429s.
func ObserveRateLimitExhausted(rawURL string) {
	Init()
	fetchRateLimitedTotal.WithLabelValues(SanitizeHost(rawURL)).Inc()
}

// ObserveRateLimitDelay records the duration of a client-side limiter wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the control API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SessionStarted increments the active sessions gauge.
func SessionStarted() {
	Init()
	auditActiveSessions.Inc()
}

// SessionFinished decrements the active sessions gauge and counts the final state.
func SessionFinished(state string) {
	Init()
	auditActiveSessions.Dec()
	auditSessionsTotal.WithLabelValues(state).Inc()
}
