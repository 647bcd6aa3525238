package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Router metrics, labelled by source kind (queue, stream)
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipes_router_events_received_total",
			Help: "Total number of events polled from a source",
		},
		[]string{"source"},
	)

	Invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipes_router_invocations_total",
			Help: "Total number of processor invocations by result",
		},
		[]string{"source", "result"},
	)

	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipes_router_invocation_duration_seconds",
			Help:    "Wall-clock duration of processor invocations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipes_router_poll_errors_total",
			Help: "Total number of failed polls against a source",
		},
		[]string{"source"},
	)

	ActivePartitions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipes_router_active_partitions",
			Help: "Number of stream partitions with an assigned reader",
		},
	)

	// Processor metrics
	ProcessorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipes_processor_events_total",
			Help: "Total number of events handled by the processor by outcome",
		},
		[]string{"outcome"},
	)

	CacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipes_processor_cache_errors_total",
			Help: "Total number of failed cache round-trips",
		},
	)
)
