package billing

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/jobboard/pkg/queue"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

// Metrics exports reconciliation counters on its own registry.
// It implements subscription.Observer.
type Metrics struct {
	registry *prometheus.Registry

	EventsProcessed     *prometheus.CounterVec
	ProviderCallsFailed *prometheus.CounterVec
	WebhookResponses    *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec
	DeadTasks           *prometheus.CounterVec
}

var _ subscription.Observer = (*Metrics)(nil)

// NewMetrics creates and registers the billing metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "events_processed_total",
			Help:      "Lifecycle inputs processed, by provider, kind and outcome",
		}, []string{"provider", "kind", "outcome"}),
		ProviderCallsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "provider_calls_failed_total",
			Help:      "Outbound provider calls that failed",
		}, []string{"provider", "operation"}),
		WebhookResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_responses_total",
			Help:      "Webhook deliveries by provider and response status",
		}, []string{"provider", "status_code"}),
		WebhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_duration_seconds",
			Help:      "Time spent handling a webhook delivery",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		DeadTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "dead_tasks_total",
			Help:      "Queue tasks moved to the dead-letter table",
		}, []string{"queue", "task"}),
	}

	reg.MustRegister(
		m.EventsProcessed,
		m.ProviderCallsFailed,
		m.WebhookResponses,
		m.WebhookDuration,
		m.DeadTasks,
	)
	return m
}

// Registry exposes the underlying registry, e.g. to add runtime collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventProcessed implements subscription.Observer.
func (m *Metrics) EventProcessed(provider subscription.Provider, kind subscription.EventKind, outcome subscription.Outcome) {
	m.EventsProcessed.WithLabelValues(string(provider), string(kind), string(outcome)).Inc()
}

// ProviderCallFailed implements subscription.Observer.
func (m *Metrics) ProviderCallFailed(provider subscription.Provider, operation subscription.EffectKind) {
	m.ProviderCallsFailed.WithLabelValues(string(provider), string(operation)).Inc()
}

// RecordWebhook records one webhook response.
func (m *Metrics) RecordWebhook(provider string, statusCode int, d time.Duration) {
	m.WebhookResponses.WithLabelValues(provider, strconv.Itoa(statusCode)).Inc()
	m.WebhookDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// DeadLetterHook counts tasks that exhausted their retries.
func (m *Metrics) DeadLetterHook() queue.DeadLetterHook {
	return func(_ context.Context, task *queue.Task, _ error) {
		m.DeadTasks.WithLabelValues(task.Queue, task.TaskName).Inc()
	}
}
