package common

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-wide counters. Prometheus counters back the
// /metrics endpoint; the atomic mirrors feed the /health JSON snapshot,
// which needs plain numbers without gathering the registry.
type Metrics struct {
	registry *prometheus.Registry

	postingsTotal  prometheus.Counter
	postingsFailed prometheus.Counter
	idempotentHits prometheus.Counter
	outboxSent     prometheus.Counter
	outboxRetried  prometheus.Counter
	acksRecorded   prometheus.Counter

	postings   atomic.Int64
	failed     atomic.Int64
	idempotent atomic.Int64
	sent       atomic.Int64
	retried    atomic.Int64
	acks       atomic.Int64
}

// MetricsSnapshot is the plain-number view used by the health endpoint.
type MetricsSnapshot struct {
	PostingsTotal  int64 `json:"postingsTotal"`
	PostingsFailed int64 `json:"postingsFailed"`
	IdempotentHits int64 `json:"idempotentHits"`
	OutboxSent     int64 `json:"outboxSent"`
	OutboxRetried  int64 `json:"outboxRetried"`
	AcksRecorded   int64 `json:"acksRecorded"`
}

// NewMetrics creates and registers all counters on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		postingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_postings_total",
			Help: "Journal postings accepted and committed.",
		}),
		postingsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_postings_failed_total",
			Help: "Journal postings rejected or rolled back.",
		}),
		idempotentHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_postings_idempotent_total",
			Help: "Postings short-circuited by the idempotency probe.",
		}),
		outboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_outbox_sent_total",
			Help: "Outbox items delivered to the consumer.",
		}),
		outboxRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_outbox_retried_total",
			Help: "Outbox dispatch attempts rescheduled with backoff.",
		}),
		acksRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_acks_recorded_total",
			Help: "Consumer acknowledgements recorded (first insert only).",
		}),
	}
	reg.MustRegister(
		m.postingsTotal, m.postingsFailed, m.idempotentHits,
		m.outboxSent, m.outboxRetried, m.acksRecorded,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) IncPosting() {
	m.postingsTotal.Inc()
	m.postings.Add(1)
}

func (m *Metrics) IncPostingFailed() {
	m.postingsFailed.Inc()
	m.failed.Add(1)
}

func (m *Metrics) IncIdempotentHit() {
	m.idempotentHits.Inc()
	m.idempotent.Add(1)
}

func (m *Metrics) IncOutboxSent() {
	m.outboxSent.Inc()
	m.sent.Add(1)
}

func (m *Metrics) IncOutboxRetried() {
	m.outboxRetried.Inc()
	m.retried.Add(1)
}

func (m *Metrics) IncAckRecorded() {
	m.acksRecorded.Inc()
	m.acks.Add(1)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		PostingsTotal:  m.postings.Load(),
		PostingsFailed: m.failed.Load(),
		IdempotentHits: m.idempotent.Load(),
		OutboxSent:     m.sent.Load(),
		OutboxRetried:  m.retried.Load(),
		AcksRecorded:   m.acks.Load(),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
