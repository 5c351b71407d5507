package corekernel

import "github.com/corekernel/corekernel/internal/kmetrics"

// Metrics tracks kernel-core operational statistics: shootdown traffic,
// stream matchmaking, IPC completion throughput, timer activity, and RCU
// grace periods. The type lives in internal/kmetrics so every internal
// package can record into it without importing this root package.
type Metrics = kmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of Metrics suitable for export.
type MetricsSnapshot = kmetrics.MetricsSnapshot

// Observer allows pluggable metrics collection for the kernel-core engines.
type Observer = kmetrics.Observer

// NoOpObserver discards all observations.
type NoOpObserver = kmetrics.NoOpObserver

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver = kmetrics.MetricsObserver

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
var LatencyBuckets = kmetrics.LatencyBuckets

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics { return kmetrics.NewMetrics() }

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return kmetrics.NewMetricsObserver(m) }
