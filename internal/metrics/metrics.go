// Package metrics declares the prometheus collectors shared by the
// admission manager and supervisor, grouped under a single namespace so
// dashboards can be built against one registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "threadctl"

var (
	QueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_queue_size",
			Help:      "Current number of requests waiting in the admission queue",
		},
		[]string{"emergency"},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_active_requests",
			Help:      "Number of requests currently active",
		},
	)

	ConcurrencyLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concurrency_limit",
			Help:      "Current concurrency limit enforced by the admission manager",
		},
	)

	QueueWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_queue_wait_seconds",
			Help:      "Time a request spent queued before starting",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_requests_total",
			Help:      "Total requests by terminal outcome",
		},
		[]string{"outcome"}, // completed|failed|canceled|timeout
	)

	EmergencyBypassTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_emergency_bypass_total",
			Help:      "Total times the emergency bypass raised the limit transiently",
		},
	)

	ScalingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scaling_decisions_total",
			Help:      "Total scaling decisions emitted by reason",
		},
		[]string{"reason"},
	)

	RecommendedThreads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recommended_threads",
			Help:      "Most recent thread-count recommendation from the decision engine",
		},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "supervisor_tick_seconds",
			Help:      "Duration of a supervisor tick",
			Buckets:   prometheus.DefBuckets,
		},
	)

	TickSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervisor_tick_skipped_total",
			Help:      "Ticks skipped because the previous tick was still running",
		},
	)

	PersistenceFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_fallback_total",
			Help:      "Times the durable scaling store fell back to the in-memory log",
		},
	)
)
