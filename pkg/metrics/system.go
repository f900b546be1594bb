package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RuntimeGauges tracks process runtime statistics
var RuntimeGauges = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "readback_runtime_stats",
		Help: "Go runtime statistics for the readback process",
	},
	[]string{"type"},
)

// CollectRuntimeMetrics samples runtime statistics every interval until ctx is done.
func CollectRuntimeMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sampleRuntime()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sampleRuntime() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	RuntimeGauges.WithLabelValues("goroutines").Set(float64(runtime.NumGoroutine()))
	RuntimeGauges.WithLabelValues("heap_alloc").Set(float64(stats.HeapAlloc))
	RuntimeGauges.WithLabelValues("heap_objects").Set(float64(stats.HeapObjects))
	RuntimeGauges.WithLabelValues("num_gc").Set(float64(stats.NumGC))
	RuntimeGauges.WithLabelValues("pause_total_ns").Set(float64(stats.PauseTotalNs))
}
