// Package metrics exposes Prometheus collectors for the follower audit service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlsTotal                *prometheus.CounterVec
	activeCrawls               prometheus.Gauge
	providerCallsTotal         *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	admissionCyclesTotal       *prometheus.CounterVec
	admittedTotal              prometheus.Counter
	followersClassifiedTotal   *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_crawls_total",
				Help: "Total number of follower crawls finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeCrawls = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audit_active_crawls",
				Help: "Number of admitted crawls currently in flight.",
			},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_provider_calls_total",
				Help: "Total number of provider API calls, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_retries_total",
				Help: "Total number of retried provider calls, labeled by endpoint and reason.",
			},
			[]string{"endpoint", "reason"},
		)

		admissionCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_admission_cycles_total",
				Help: "Total number of scheduler cycles, labeled by result.",
			},
			[]string{"result"},
		)

		admittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_admitted_total",
				Help: "Total number of requests admitted into crawl slots.",
			},
		)

		followersClassifiedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_followers_classified_total",
				Help: "Total number of follower profiles classified, labeled by class.",
			},
			[]string{"class"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_rate_limit_delays_seconds",
				Help:    "Histogram of local per-credential pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl increments the finished crawl counter for the given outcome.
func ObserveCrawl(outcome string) {
	Init()
	crawlsTotal.WithLabelValues(outcome).Inc()
}

// SetActiveCrawls records the current size of the active set.
func SetActiveCrawls(n int) {
	Init()
	activeCrawls.Set(float64(n))
}

// ObserveProviderCall increments the provider call counter.
func ObserveProviderCall(endpoint, outcome string) {
	Init()
	providerCallsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveRetry increments the retry counter.
func ObserveRetry(endpoint, reason string) {
	Init()
	retriesTotal.WithLabelValues(endpoint, reason).Inc()
}

// ObserveAdmissionCycle records one scheduler cycle and how many tasks it admitted.
func ObserveAdmissionCycle(result string, admitted int) {
	Init()
	admissionCyclesTotal.WithLabelValues(result).Inc()
	if admitted > 0 {
		admittedTotal.Add(float64(admitted))
	}
}

// ObserveFollowers adds n classified followers of the given class.
func ObserveFollowers(class string, n uint64) {
	Init()
	if n > 0 {
		followersClassifiedTotal.WithLabelValues(class).Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(endpoint string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
