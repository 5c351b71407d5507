package kmetrics

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks kernel-core operational statistics: shootdown traffic,
// stream matchmaking, IPC completion throughput, timer activity, and RCU
// grace periods.
type Metrics struct {
	ShootdownsIssued    atomic.Uint64
	ShootdownsCompleted atomic.Uint64
	ShootdownIPIs       atomic.Uint64

	StreamMatches   atomic.Uint64
	StreamTimeouts  atomic.Uint64
	StreamShutdowns atomic.Uint64

	IpcCompletionsEnqueued atomic.Uint64
	IpcCompletionsRead     atomic.Uint64
	IpcBytesTransferred    atomic.Uint64
	IpcQueueFull           atomic.Uint64

	TimerInstalls  atomic.Uint64
	TimerFires     atomic.Uint64
	TimerCancels   atomic.Uint64
	TimerReArmRace atomic.Uint64

	RCUBarriers atomic.Uint64

	// Cumulative completion-latency histogram, shared across shootdown and
	// IPC completion paths (both are "request issued, completion observed"
	// flows and benefit from the same percentile machinery).
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordShootdown records one completed cross-CPU TLB shootdown round.
func (m *Metrics) RecordShootdown(ipiCount uint64, latencyNs uint64) {
	m.ShootdownsCompleted.Add(1)
	m.ShootdownIPIs.Add(ipiCount)
	m.recordLatency(latencyNs)
}

// RecordStreamMatch records a successful lane pairing.
func (m *Metrics) RecordStreamMatch() {
	m.StreamMatches.Add(1)
}

// RecordIpcCompletion records one completion element written to a ring.
func (m *Metrics) RecordIpcCompletion(bytes uint64, latencyNs uint64) {
	m.IpcCompletionsEnqueued.Add(1)
	m.IpcBytesTransferred.Add(bytes)
	m.recordLatency(latencyNs)
}

// RecordTimerFire records a deadline firing, including whether progress()
// had to retry because of the install-during-fire race.
func (m *Metrics) RecordTimerFire(reArmRace bool) {
	m.TimerFires.Add(1)
	if reArmRace {
		m.TimerReArmRace.Add(1)
	}
}

// RecordRCUBarrier records one completed RCU grace period.
func (m *Metrics) RecordRCUBarrier() {
	m.RCUBarriers.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the engine as stopped for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics suitable for export.
type MetricsSnapshot struct {
	ShootdownsIssued    uint64
	ShootdownsCompleted uint64
	ShootdownIPIs       uint64

	StreamMatches   uint64
	StreamTimeouts  uint64
	StreamShutdowns uint64

	IpcCompletionsEnqueued uint64
	IpcCompletionsRead     uint64
	IpcBytesTransferred    uint64
	IpcQueueFull           uint64

	TimerInstalls  uint64
	TimerFires     uint64
	TimerCancels   uint64
	TimerReArmRace uint64

	RCUBarriers uint64

	AvgLatencyNs  uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
	UptimeNs         uint64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ShootdownsIssued:       m.ShootdownsIssued.Load(),
		ShootdownsCompleted:    m.ShootdownsCompleted.Load(),
		ShootdownIPIs:          m.ShootdownIPIs.Load(),
		StreamMatches:          m.StreamMatches.Load(),
		StreamTimeouts:         m.StreamTimeouts.Load(),
		StreamShutdowns:        m.StreamShutdowns.Load(),
		IpcCompletionsEnqueued: m.IpcCompletionsEnqueued.Load(),
		IpcCompletionsRead:     m.IpcCompletionsRead.Load(),
		IpcBytesTransferred:    m.IpcBytesTransferred.Load(),
		IpcQueueFull:           m.IpcQueueFull.Load(),
		TimerInstalls:          m.TimerInstalls.Load(),
		TimerFires:             m.TimerFires.Load(),
		TimerCancels:           m.TimerCancels.Load(),
		TimerReArmRace:         m.TimerReArmRace.Load(),
		RCUBarriers:            m.RCUBarriers.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters; used by tests that assert on absolute counts.
func (m *Metrics) Reset() {
	*m = Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
}

// Observer allows pluggable metrics collection for the kernel-core engines.
type Observer interface {
	ObserveShootdown(ipiCount uint64, latencyNs uint64)
	ObserveStreamMatch()
	ObserveIpcCompletion(bytes uint64, latencyNs uint64)
	ObserveTimerFire(reArmRace bool)
	ObserveRCUBarrier()
}

// NoOpObserver discards all observations.
type NoOpObserver struct{}

func (NoOpObserver) ObserveShootdown(uint64, uint64)     {}
func (NoOpObserver) ObserveStreamMatch()                 {}
func (NoOpObserver) ObserveIpcCompletion(uint64, uint64) {}
func (NoOpObserver) ObserveTimerFire(bool)               {}
func (NoOpObserver) ObserveRCUBarrier()                  {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveShootdown(ipiCount uint64, latencyNs uint64) {
	o.metrics.RecordShootdown(ipiCount, latencyNs)
}

func (o *MetricsObserver) ObserveStreamMatch() {
	o.metrics.RecordStreamMatch()
}

func (o *MetricsObserver) ObserveIpcCompletion(bytes uint64, latencyNs uint64) {
	o.metrics.RecordIpcCompletion(bytes, latencyNs)
}

func (o *MetricsObserver) ObserveTimerFire(reArmRace bool) {
	o.metrics.RecordTimerFire(reArmRace)
}

func (o *MetricsObserver) ObserveRCUBarrier() {
	o.metrics.RecordRCUBarrier()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
