// Package metrics holds the Prometheus instrumentation for the node
// runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles all node metrics. A nil *Metrics is valid and records
// nothing, so components can be built bare in tests.
type Metrics struct {
	// Pipeline metrics
	KnowledgeProcessed *prometheus.CounterVec
	PipelineQueueDepth prometheus.Gauge

	// Cache metrics
	CacheOps *prometheus.CounterVec

	// Network metrics
	EventsQueued         *prometheus.CounterVec
	EventsFlushed        *prometheus.CounterVec
	WebhookFlushFailures prometheus.Counter
}

// New creates and registers all node metrics against reg. Each node
// carries its own registry so that several nodes can live in one
// process (as they do in tests).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		KnowledgeProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koinet_knowledge_processed_total",
				Help: "Knowledge objects consumed by the pipeline",
			},
			[]string{"outcome"}, // outcome: new, update, forget, stopped, skipped, error
		),
		PipelineQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "koinet_pipeline_queue_depth",
				Help: "Knowledge objects waiting in the pipeline queue",
			},
		),
		CacheOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koinet_cache_ops_total",
				Help: "Cache operations performed by the pipeline",
			},
			[]string{"op"}, // op: write, delete
		),
		EventsQueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koinet_events_queued_total",
				Help: "Events enqueued for peers",
			},
			[]string{"queue"}, // queue: webhook, poll
		),
		EventsFlushed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koinet_events_flushed_total",
				Help: "Events drained from peer queues",
			},
			[]string{"queue"},
		),
		WebhookFlushFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "koinet_webhook_flush_failures_total",
				Help: "Webhook flushes that failed and were re-enqueued",
			},
		),
	}
}

// RecordProcessed counts one pipeline completion with the given outcome.
func (m *Metrics) RecordProcessed(outcome string) {
	if m == nil {
		return
	}
	m.KnowledgeProcessed.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current pipeline queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.PipelineQueueDepth.Set(float64(depth))
}

// RecordCacheOp counts one cache mutation.
func (m *Metrics) RecordCacheOp(op string) {
	if m == nil {
		return
	}
	m.CacheOps.WithLabelValues(op).Inc()
}

// RecordQueued counts one event enqueued to a peer queue.
func (m *Metrics) RecordQueued(queue string) {
	if m == nil {
		return
	}
	m.EventsQueued.WithLabelValues(queue).Inc()
}

// RecordFlushed counts events drained from a peer queue.
func (m *Metrics) RecordFlushed(queue string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsFlushed.WithLabelValues(queue).Add(float64(n))
}

// RecordWebhookFailure counts one failed webhook flush.
func (m *Metrics) RecordWebhookFailure() {
	if m == nil {
		return
	}
	m.WebhookFlushFailures.Inc()
}
