package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "splithost"

// RegisterMetrics exposes s to Prometheus on reg. Every collector reads the
// live state at scrape time, so nothing extra runs on the tick path.
func RegisterMetrics(reg prometheus.Registerer, s *State) {
	f := promauto.With(reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tick_rate_seconds",
		Help:      "Interval the tick scheduler currently runs at.",
	}, func() float64 { return s.TickRate().Seconds() })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tick_avg_seconds",
		Help:      "Exponential moving average of module update duration.",
	}, s.AvgTick)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tick_slowest_seconds",
		Help:      "Slowest module update since the last reset.",
	}, func() float64 { return s.SlowestTick().Seconds() })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "module_memory_bytes",
		Help:      "Memory footprint reported by the module.",
	}, func() float64 { return float64(s.memory.Load()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "module_handles",
		Help:      "Handles held by the module.",
	}, func() float64 { return float64(s.handles.Load()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "module_attached_processes",
		Help:      "Processes the module currently observes.",
	}, func() float64 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return float64(len(s.processes))
	})

	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Module updates executed.",
	}, func() float64 { return float64(s.ticks.Load()) })

	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tick_failures_total",
		Help:      "Module updates that returned an error.",
	}, func() float64 { return float64(s.failures.Load()) })
}
