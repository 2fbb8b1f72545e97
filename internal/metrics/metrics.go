package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP request metrics for API server
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Pipeline run metrics
var (
	// RunsTotal counts pipeline runs by trigger and terminal state
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_runs_total",
			Help: "Total number of pipeline runs by trigger and terminal state",
		},
		[]string{"trigger", "state"},
	)

	// RunsInProgress tracks currently executing runs
	RunsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cost_runs_in_progress",
			Help: "Number of pipeline runs currently executing",
		},
	)

	// StageDuration tracks how long each pipeline stage takes
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cost_run_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		},
		[]string{"stage"},
	)

	// AccountsProcessed counts accounts by outcome
	AccountsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_accounts_processed_total",
			Help: "Total number of accounts processed by outcome (succeeded, failed)",
		},
		[]string{"outcome"},
	)

	// AnomaliesDetected counts anomalies flagged across all runs
	AnomaliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cost_anomalies_detected_total",
			Help: "Total number of spending anomalies detected",
		},
	)
)

// Provider metrics
var (
	// FetchErrors counts metrics-provider failures by provider and kind
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_fetch_errors_total",
			Help: "Total number of cost fetch failures by provider and kind (transient, permanent)",
		},
		[]string{"provider", "kind"},
	)

	// FetchRetries counts retry attempts against the metrics provider
	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_fetch_retries_total",
			Help: "Total number of fetch retry attempts by provider",
		},
		[]string{"provider"},
	)

	// SyntheticSnapshots counts fallbacks to synthetic demo data
	SyntheticSnapshots = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cost_synthetic_snapshots_total",
			Help: "Total number of snapshots substituted with synthetic demo data",
		},
	)

	// AIFailures counts narrative-generator failures by kind
	AIFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_ai_failures_total",
			Help: "Total number of AI insight failures by kind (timeout, malformed, unavailable)",
		},
		[]string{"kind"},
	)

	// AIDuration tracks AI call latency
	AIDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cost_ai_duration_seconds",
			Help:    "Duration of AI insight calls",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 500ms to ~64s
		},
	)
)

// Delivery metrics
var (
	// EmailsSent counts delivered emails by kind
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_emails_sent_total",
			Help: "Total number of report emails sent by kind (team_report, admin_summary)",
		},
		[]string{"kind"},
	)

	// DeliveryFailures counts email failures by kind and cause
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cost_delivery_failures_total",
			Help: "Total number of email delivery failures by kind and cause (recipient_rejected, transport_failure)",
		},
		[]string{"kind", "cause"},
	)
)

// Helper functions for common metric operations

// RecordRunFinished increments the run counter for a terminal state
func RecordRunFinished(trigger, state string) {
	RunsTotal.WithLabelValues(trigger, state).Inc()
}

// RecordStageDuration records how long a pipeline stage took
func RecordStageDuration(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordAccountOutcome increments the processed-accounts counter
func RecordAccountOutcome(outcome string) {
	AccountsProcessed.WithLabelValues(outcome).Inc()
}

// RecordFetchError increments the fetch error counter
func RecordFetchError(provider string, transient bool) {
	kind := "permanent"
	if transient {
		kind = "transient"
	}
	FetchErrors.WithLabelValues(provider, kind).Inc()
}

// RecordAIFailure increments the AI failure counter
func RecordAIFailure(kind string) {
	AIFailures.WithLabelValues(kind).Inc()
}

// RecordEmailSent increments the sent email counter
func RecordEmailSent(kind string) {
	EmailsSent.WithLabelValues(kind).Inc()
}

// RecordDeliveryFailure increments the delivery failure counter
func RecordDeliveryFailure(kind string, recipientRejected bool) {
	cause := "transport_failure"
	if recipientRejected {
		cause = "recipient_rejected"
	}
	DeliveryFailures.WithLabelValues(kind, cause).Inc()
}

// RecordHTTPRequest records the duration and increments the counter for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}
