package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	webhookLabels = []string{"event_type", "company_id", "outcome"}

	// WebhookEnvelopesTotal counts recorded webhook envelopes by outcome.
	WebhookEnvelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_engine_webhook_envelopes_total",
			Help: "Total number of webhook envelopes recorded, labeled by event type and processing outcome.",
		},
		webhookLabels,
	)
	WebhookProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_engine_webhook_processing_duration_seconds",
			Help:    "Histogram of webhook envelope processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"event_type", "company_id"},
	)

	providerLabels = []string{"mode", "company_id", "outcome"}

	ProviderSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_engine_provider_sends_total",
			Help: "Total number of outbound provider sends, labeled by send mode and outcome.",
		},
		providerLabels,
	)
	ProviderSendDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_engine_provider_send_duration_seconds",
			Help:    "Histogram of outbound provider call durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		providerLabels,
	)

	OpportunityTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_engine_opportunity_transitions_total",
			Help: "Total number of opportunity state transitions, labeled by source and target state.",
		},
		[]string{"from_state", "to_state", "company_id", "outcome"},
	)

	// Global metrics instance
	Metrics *metricsStore
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "company_id", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_engine_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

var (
	cacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_engine_cache_checks_total",
			Help: "Total number of in-process cache lookups, labeled by cache and result.",
		},
		[]string{"company_id", "cache", "result"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_engine_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route and status code.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

// --- Notifier Worker Pool Metrics ---
var (
	notifierPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_engine_notifier_publishes_total",
			Help: "Total number of domain events published, labeled by topic and status.",
		},
		[]string{"topic", "company_id", "status"},
	)
	notifierQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_engine_notifier_queue_length",
		Help: "Approximate number of domain events waiting in the notifier pool.",
	})
)

// metricsStore marks metrics as initialised; promauto registers the collectors.
type metricsStore struct{}

// InitMetrics initializes the Prometheus metrics if enabled.
// Call this function during application startup.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
	if !enabled {
		Metrics = nil
		return
	}
	Metrics = &metricsStore{}
}

// sanitizeTenant ensures the tenant label is valid or returns a default value.
func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

// IncWebhookEnvelope counts one recorded envelope.
func IncWebhookEnvelope(eventType, tenant, outcome string) {
	if !metricsEnabled {
		return
	}
	WebhookEnvelopesTotal.WithLabelValues(eventType, sanitizeTenant(tenant), outcome).Inc()
}

func ObserveWebhookProcessingDuration(eventType, tenant string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	WebhookProcessingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant)).Observe(duration.Seconds())
}

// ObserveProviderSend records one outbound provider call.
func ObserveProviderSend(mode, tenant string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ProviderSendsTotal.WithLabelValues(mode, sanitizeTenant(tenant), outcome).Inc()
	ProviderSendDurationSeconds.WithLabelValues(mode, sanitizeTenant(tenant), outcome).Observe(duration.Seconds())
}

// IncOpportunityTransition counts an attempted opportunity transition.
// outcome is one of applied, noop, rejected, conflict.
func IncOpportunityTransition(from, to, tenant, outcome string) {
	if !metricsEnabled {
		return
	}
	OpportunityTransitionsTotal.WithLabelValues(from, to, sanitizeTenant(tenant), outcome).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, companyID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(companyID), status).Observe(duration.Seconds())
}

// IncCacheCheck counts a cache lookup; result is hit, miss or invalidate.
func IncCacheCheck(companyID, cache, result string) {
	if Metrics != nil {
		cacheChecksTotal.WithLabelValues(sanitizeTenant(companyID), cache, result).Inc()
	}
}

func ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	httpRequestDurationSeconds.WithLabelValues(route, method, statusClass(status)).Observe(duration.Seconds())
}

// IncNotifierPublish counts a domain-event publish attempt.
func IncNotifierPublish(topic, companyID string, err error) {
	if Metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = SanitizeErrorType(err.Error())
	}
	notifierPublishesTotal.WithLabelValues(topic, sanitizeTenant(companyID), status).Inc()
}

func SetNotifierQueueLength(length int) {
	if Metrics != nil {
		notifierQueueLength.Set(float64(length))
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "provider"):
		return "provider"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
