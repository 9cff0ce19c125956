package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	stageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "staticobf",
			Subsystem: "pipeline",
			Name:      "stages_total",
			Help:      "Pipeline stage executions by outcome.",
		},
		[]string{"arch", "stage", "success"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "staticobf",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"arch", "stage", "success"},
	)
	toolRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "staticobf",
			Subsystem: "tools",
			Name:      "invocations_total",
			Help:      "External tool invocations by role and outcome.",
		},
		[]string{"role", "success"},
	)
	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "staticobf",
			Subsystem: "tools",
			Name:      "invocation_duration_seconds",
			Help:      "External tool invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "success"},
	)
	archsDone = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "staticobf",
			Subsystem: "driver",
			Name:      "architectures_total",
			Help:      "Architectures finished by outcome.",
		},
		[]string{"success"},
	)
)

// RegisterMetrics registers the package collectors once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		registry.MustRegister(stageRuns, stageDuration, toolRuns, toolDuration, archsDone)
	})
}

// Gatherer exposes the package registry for tests and exporters.
func Gatherer() prometheus.Gatherer {
	RegisterMetrics()
	return registry
}

// RecordStage counts one pipeline stage run and observes its duration.
func RecordStage(arch, stage string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	stageRuns.WithLabelValues(arch, stage, successLabel).Inc()
	stageDuration.WithLabelValues(arch, stage, successLabel).Observe(duration.Seconds())
}

// RecordTool counts one external tool invocation and observes its duration.
func RecordTool(role string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	toolRuns.WithLabelValues(role, successLabel).Inc()
	toolDuration.WithLabelValues(role, successLabel).Observe(duration.Seconds())
}

// RecordArchitecture counts one finished architecture pipeline.
func RecordArchitecture(success bool) {
	RegisterMetrics()
	archsDone.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// WriteMetrics dumps the registry in the text exposition format, for the
// node_exporter textfile collector. An empty path is a no-op.
func WriteMetrics(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, Gatherer())
}
