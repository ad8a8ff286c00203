// Package metrics exposes the Prometheus collectors the engine records
// against: tick timing, manifest-generation overhead, apply-report
// counters, and sandbox fuel/trap outcomes. Mirrors the teacher's
// pkg/metrics shape (a package-level Registry plus a promhttp Handler).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the engine's Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nomai",
		Subsystem: "tick",
		Name:      "duration_seconds",
		Help:      "Wall time of a full tick, all phases included.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	SystemDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nomai",
		Subsystem: "tick",
		Name:      "system_duration_seconds",
		Help:      "Wall time of a single registered system within a tick.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14),
	}, []string{"system"})

	CommandApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nomai",
		Subsystem: "command",
		Name:      "apply_duration_seconds",
		Help:      "Wall time of CommandBuffer.Apply.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14),
	})

	CommandOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nomai",
		Subsystem: "command",
		Name:      "outcomes_total",
		Help:      "Applied commands by outcome (success, failed, conflict).",
	}, []string{"outcome"})

	ManifestGenerationMicros = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nomai",
		Subsystem: "manifest",
		Name:      "generation_micros",
		Help:      "Microseconds spent building a TickManifest (budget: <5%% of frame time).",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 18),
	})

	ManifestHistorySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nomai",
		Subsystem: "manifest",
		Name:      "history_size",
		Help:      "Number of TickManifests currently retained in the bounded history window.",
	})

	SandboxOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nomai",
		Subsystem: "sandbox",
		Name:      "tick_outcomes_total",
		Help:      "Guest tick outcomes (success, out_of_fuel, trap).",
	}, []string{"outcome"})

	SandboxConsecutiveTraps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nomai",
		Subsystem: "sandbox",
		Name:      "consecutive_traps",
		Help:      "Current consecutive-trap counter for the active guest instance.",
	})

	EntityCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nomai",
		Subsystem: "world",
		Name:      "entity_count",
		Help:      "Live entity count at the end of the most recent tick.",
	})
)

func init() {
	Registry.MustRegister(
		TickDuration,
		SystemDuration,
		CommandApplyDuration,
		CommandOutcomes,
		ManifestGenerationMicros,
		ManifestHistorySize,
		SandboxOutcomes,
		SandboxConsecutiveTraps,
		EntityCount,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
