// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recommendation client
	RecommendationAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "animerec_recommendation_attempts_total",
			Help: "Chat-completion requests sent to the LLM provider, retries included",
		},
	)

	RecommendationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_recommendation_retries_total",
			Help: "Retried chat-completion attempts by cause",
		},
		[]string{"reason"}, // "network", "server", "rate_limited"
	)

	RecommendationResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_recommendation_results_total",
			Help: "Completed recommendation calls by outcome",
		},
		[]string{"outcome"}, // "ok", "invalid_response", "rejected", "exhausted"
	)

	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "animerec_recommendation_duration_seconds",
			Help:    "Wall time of a recommendation call including retries",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
	)

	// Build job
	BuildStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animerec_build_stage_duration_seconds",
			Help:    "Duration of build stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"stage", "status"},
	)

	BuildStageAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_build_stage_attempts_total",
			Help: "Build stage attempts, retries included",
		},
		[]string{"stage"},
	)

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animerec_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordRecommendation records the outcome and wall time of one call.
func RecordRecommendation(outcome string, duration time.Duration) {
	RecommendationResults.WithLabelValues(outcome).Inc()
	RecommendationDuration.Observe(duration.Seconds())
}

// RecordBuildStage records one attempt of a build stage.
func RecordBuildStage(stage string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	BuildStageAttempts.WithLabelValues(stage).Inc()
	BuildStageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// RecordHTTPRequest records a served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
