package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PacketsCaptured counts frames delivered by the radio driver
	PacketsCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snuffle",
			Name:      "packets_captured_total",
			Help:      "Total number of frames delivered by the radio driver",
		},
		[]string{"type"},
	)

	// PacketsDropped counts frames dropped by the deferral path
	PacketsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snuffle",
			Name:      "packets_dropped_total",
			Help:      "Total number of frames dropped before processing",
		},
		[]string{"reason"},
	)

	// CapturesSaved counts captures written to the sink
	CapturesSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snuffle",
			Name:      "captures_saved_total",
			Help:      "Total number of captures written to the sink",
		},
		[]string{"kind"},
	)

	// InsertsRejected counts pressure-gated collection rejections
	InsertsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snuffle",
			Name:      "inserts_rejected_total",
			Help:      "Total number of collection inserts rejected by admission gates",
		},
		[]string{"collection", "reason"},
	)

	// InjectionsTotal counts frame injection attempts
	InjectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snuffle",
			Name:      "injection_total",
			Help:      "Total number of frame injection attempts",
		},
		[]string{"type"},
	)

	// PressureLevel exposes the current heap pressure level (0-3)
	PressureLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "snuffle",
			Name:      "heap_pressure_level",
			Help:      "Current heap pressure level (0=normal 3=critical)",
		},
	)

	// HeapLargestBlock exposes the largest contiguous free block
	HeapLargestBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "snuffle",
			Name:      "heap_largest_block_bytes",
			Help:      "Largest contiguous free heap block at last sample",
		},
	)

	// ConditioningRuns counts heap conditioning cycles
	ConditioningRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "snuffle",
			Name:      "heap_conditioning_runs_total",
			Help:      "Total number of heap conditioning cycles",
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry.
// This function is idempotent and can be called multiple times safely.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(PacketsCaptured)
		prometheus.DefaultRegisterer.Register(PacketsDropped)
		prometheus.DefaultRegisterer.Register(CapturesSaved)
		prometheus.DefaultRegisterer.Register(InsertsRejected)
		prometheus.DefaultRegisterer.Register(InjectionsTotal)
		prometheus.DefaultRegisterer.Register(PressureLevel)
		prometheus.DefaultRegisterer.Register(HeapLargestBlock)
		prometheus.DefaultRegisterer.Register(ConditioningRuns)
	})
}
