package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowsentinel"

// Metrics are the engine's Prometheus instruments.
type Metrics struct {
	PacketsTotal     *prometheus.CounterVec // by protocol
	MalformedPackets prometheus.Counter
	FlowsCreated     prometheus.Counter
	FlowsActive      prometheus.Gauge
	FlowsEvicted     prometheus.Counter
	VerdictsTotal    *prometheus.CounterVec // by outcome: normal, attack, unclassified
	BatchDuration    prometheus.Histogram
	DispatchDuration prometheus.Histogram
	DispatchFailures prometheus.Counter
	QueueLength      prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_total",
				Help:      "Total number of packets ingested into the flow table",
			},
			[]string{"protocol"},
		),
		MalformedPackets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_packets_total",
				Help:      "Total number of packets dropped for lacking flow context",
			},
		),
		FlowsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flows_created_total",
				Help:      "Total number of flows created",
			},
		),
		FlowsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "flows_active",
				Help:      "Number of flows currently tracked",
			},
		),
		FlowsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flows_evicted_total",
				Help:      "Total number of flows evicted and classified",
			},
		),
		VerdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdicts_total",
				Help:      "Total number of verdicts by outcome",
			},
			[]string{"outcome"},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Time spent classifying and writing one evicted batch",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Classifier round-trip time per batch",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		DispatchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_incomplete_total",
				Help:      "Total number of batches the classifier did not fully label",
			},
		),
		QueueLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packet_queue_length",
				Help:      "Packets waiting for a worker",
			},
		),
	}

	reg.MustRegister(
		m.PacketsTotal,
		m.MalformedPackets,
		m.FlowsCreated,
		m.FlowsActive,
		m.FlowsEvicted,
		m.VerdictsTotal,
		m.BatchDuration,
		m.DispatchDuration,
		m.DispatchFailures,
		m.QueueLength,
	)
	return m
}
