package telemetry

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "heap_alloc_bytes",
			Help:      "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)

	numGC = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "gc_cycles",
			Help:      "Total number of GC cycles.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.NumGC)
		},
	)
)

func init() {
	prometheus.MustRegister(heapAlloc, numGC)
}

// RegisterGaugeFunc registers a messaging gauge backed by fn. Registering
// the same name twice returns the registry error.
func RegisterGaugeFunc(name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
	return prometheus.Register(g)
}
