package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Readback cycle outcomes.
const (
	OutcomeIssued    = "issued"
	OutcomeCompleted = "completed"
	OutcomeStale     = "stale"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	// ReadbackCycles counts readback requests by outcome
	ReadbackCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readback_cycles_total",
			Help: "Readback requests by outcome (issued, completed, stale, failed, skipped)",
		},
		[]string{"outcome"},
	)

	// DecodedRecords counts collision records decoded from completed readbacks
	DecodedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "readback_decoded_records_total",
			Help: "Collision records decoded from completed readbacks",
		},
	)

	// TruncatedRecords counts records the producer reported beyond buffer capacity
	TruncatedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "readback_truncated_records_total",
			Help: "Records reported by the producer beyond buffer capacity and ignored",
		},
	)

	// ReadbackLatency tracks time from request issue to completion
	ReadbackLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "readback_latency_seconds",
			Help:    "Time from readback issue to completion",
			Buckets: []float64{.001, .002, .004, .008, .016, .033, .066, .1, .25, .5, 1},
		},
	)

	// DispatchDuration tracks decode and dispatch time inside the completion callback
	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "readback_dispatch_seconds",
			Help:    "Decode and dispatch time per completed readback",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
	)

	// BufferCapacity reports the current shared buffer capacity in records
	BufferCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "readback_buffer_capacity_records",
			Help: "Current shared buffer capacity in records",
		},
	)

	// SinkEvents counts collision events handled by output sinks
	SinkEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readback_sink_events_total",
			Help: "Collision events handled by output sinks by outcome",
		},
		[]string{"sink", "outcome"},
	)
)
