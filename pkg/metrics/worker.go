package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CopyPoolGauges tracks copy worker pool gauges
	CopyPoolGauges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "readback_copy_pool_gauges",
			Help: "Copy worker pool gauges by pool name and type",
		},
		[]string{"pool", "type"},
	)

	// CopyPoolCounters tracks copy worker pool counters
	CopyPoolCounters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readback_copy_pool_counters",
			Help: "Copy worker pool counters by pool name and type",
		},
		[]string{"pool", "type"},
	)

	// CopyPoolHistograms tracks copy processing time
	CopyPoolHistograms = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "readback_copy_pool_processing_seconds",
			Help:    "Copy worker pool processing time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"},
	)
)
