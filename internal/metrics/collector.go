// Package metrics holds the Prometheus collectors shared by the server and
// client sides of curiosity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// Handler renders every registered collector in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Pre-defined metrics used across the application ---

var (
	uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "curiosity_uptime_seconds",
			Help: "Time since start in seconds",
		},
		func() float64 { return Uptime().Seconds() },
	)

	// Server side.
	MessagesAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curiosity_messages_appended_total",
		Help: "Messages appended to the conversation log, by role",
	}, []string{"role"})
	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curiosity_submissions_total",
		Help: "Submission outcomes (ok, invalid, storage_error, upstream_error)",
	}, []string{"outcome"})
	StorageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curiosity_storage_errors_total",
		Help: "Conversation log I/O failures, by operation",
	}, []string{"op"})
	LogResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curiosity_log_resets_total",
		Help: "Times a malformed conversation log was reset to empty",
	})
	LogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "curiosity_log_messages",
		Help: "Messages in the conversation log after the last append",
	})
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curiosity_http_requests_total",
		Help: "HTTP requests served, by route and status code",
	}, []string{"route", "code"})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curiosity_http_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	})

	LLMRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curiosity_llm_requests_total",
		Help: "LLM API requests, by provider and outcome",
	}, []string{"provider", "outcome"})
	LLMLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curiosity_llm_latency_seconds",
		Help:    "LLM request latency in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"provider"})

	// Client side.
	GatewayFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curiosity_gateway_fallbacks_total",
		Help: "Client operations served from the local backup, by operation",
	}, []string{"op"})
	FeedDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curiosity_feed_duplicates_total",
		Help: "Messages discarded by the feed as already seen",
	})
)

func init() {
	prometheus.MustRegister(
		uptime,
		MessagesAppended,
		Submissions,
		StorageErrors,
		LogResets,
		LogSize,
		HTTPRequests,
		RateLimited,
		LLMRequestsTotal,
		LLMLatency,
		GatewayFallbacks,
		FeedDuplicates,
	)
}
