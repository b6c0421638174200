// Package metrics exposes indexer counters and gauges to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Processing results used as the "result" label.
const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultNotFound = "not_found"
)

// Metrics holds all Prometheus metrics of the indexer.
type Metrics struct {
	registry *prometheus.Registry

	// Work item metrics
	WorkItemsQueued    *prometheus.CounterVec
	WorkItemsCoalesced *prometheus.CounterVec
	WorkItemsProcessed *prometheus.CounterVec
	ProcessDuration    *prometheus.HistogramVec

	// Retry metrics
	ReindexRetries prometheus.Counter
	ReindexExpired prometheus.Counter

	// State gauges
	PendingKeys prometheus.Gauge
	QueueLength prometheus.Gauge
	LedgerSize  prometheus.Gauge
}

// NewMetrics creates and registers all metrics on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		WorkItemsQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirindex_work_items_queued_total",
				Help: "Total number of work items accepted into the queue",
			},
			[]string{"kind"},
		),
		WorkItemsCoalesced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirindex_work_items_coalesced_total",
				Help: "Total number of requests suppressed because identical work was outstanding",
			},
			[]string{"kind"},
		),
		WorkItemsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirindex_work_items_processed_total",
				Help: "Total number of work item attempts by result",
			},
			[]string{"kind", "result"},
		),
		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dirindex_work_item_duration_seconds",
				Help:    "Duration of a single work item attempt in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		ReindexRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dirindex_reindex_retries_total",
				Help: "Total number of scheduled retry attempts",
			},
		),
		ReindexExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dirindex_reindex_expired_total",
				Help: "Total number of work items dropped after their expiry window",
			},
		),

		PendingKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dirindex_pending_keys",
				Help: "Number of work item keys queued, in flight or awaiting retry",
			},
		),
		QueueLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dirindex_queue_length",
				Help: "Number of work items waiting for the worker",
			},
		),
		LedgerSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dirindex_reindex_ledger_size",
				Help: "Number of work items awaiting retry",
			},
		),
	}

	registry.MustRegister(
		m.WorkItemsQueued,
		m.WorkItemsCoalesced,
		m.WorkItemsProcessed,
		m.ProcessDuration,
		m.ReindexRetries,
		m.ReindexExpired,
		m.PendingKeys,
		m.QueueLength,
		m.LedgerSize,
	)
	return m
}

// Queued counts an accepted work item.
func (m *Metrics) Queued(kind string) {
	if m == nil {
		return
	}
	m.WorkItemsQueued.WithLabelValues(kind).Inc()
}

// Coalesced counts a suppressed duplicate request.
func (m *Metrics) Coalesced(kind string) {
	if m == nil {
		return
	}
	m.WorkItemsCoalesced.WithLabelValues(kind).Inc()
}

// Processed counts one attempt and its duration.
func (m *Metrics) Processed(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkItemsProcessed.WithLabelValues(kind, result).Inc()
	m.ProcessDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Retried counts a scheduled retry attempt.
func (m *Metrics) Retried() {
	if m == nil {
		return
	}
	m.ReindexRetries.Inc()
}

// Expired counts dropped work items.
func (m *Metrics) Expired(n int) {
	if m == nil {
		return
	}
	m.ReindexExpired.Add(float64(n))
}

// SetState updates the state gauges.
func (m *Metrics) SetState(pendingKeys, queueLength, ledgerSize int) {
	if m == nil {
		return
	}
	m.PendingKeys.Set(float64(pendingKeys))
	m.QueueLength.Set(float64(queueLength))
	m.LedgerSize.Set(float64(ledgerSize))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterMetricsEndpoint registers the /metrics endpoint on mux.
func RegisterMetricsEndpoint(mux *http.ServeMux, m *Metrics) {
	mux.Handle("/metrics", m.Handler())
}
