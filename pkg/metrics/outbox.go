package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks dispatcher throughput and queue health.
type OutboxMetrics struct {
	published  prometheus.Counter
	retried    prometheus.Counter
	dead       prometheus.Counter
	queueDepth prometheus.Gauge
}

// NewOutboxMetrics registers the outbox metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "partnerhub",
		Name:      "outbox_events_published_total",
		Help:      "Outbox events successfully published to the bus.",
	})
	retried := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "partnerhub",
		Name:      "outbox_events_retried_total",
		Help:      "Outbox events rescheduled after a failed publish.",
	})
	dead := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "partnerhub",
		Name:      "outbox_events_dead_total",
		Help:      "Outbox events parked after exhausting retries.",
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "partnerhub",
		Name:      "outbox_pending_events",
		Help:      "Outbox events waiting to be claimed.",
	})
	reg.MustRegister(published, retried, dead, queueDepth)
	return &OutboxMetrics{
		published:  published,
		retried:    retried,
		dead:       dead,
		queueDepth: queueDepth,
	}
}

func (m *OutboxMetrics) IncPublished() {
	if m == nil || m.published == nil {
		return
	}
	m.published.Inc()
}

func (m *OutboxMetrics) IncRetried() {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.Inc()
}

func (m *OutboxMetrics) IncDead() {
	if m == nil || m.dead == nil {
		return
	}
	m.dead.Inc()
}

func (m *OutboxMetrics) SetQueueDepth(depth int64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
