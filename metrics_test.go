package corekernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsShootdown(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.ShootdownsCompleted)

	m.RecordShootdown(3, 1_000_000)
	m.RecordShootdown(1, 2_000_000)

	snap = m.Snapshot()
	assert.Equal(t, uint64(2), snap.ShootdownsCompleted)
	assert.Equal(t, uint64(4), snap.ShootdownIPIs)
	assert.Equal(t, uint64(1_500_000), snap.AvgLatencyNs)
}

func TestMetricsStreamAndTimer(t *testing.T) {
	m := NewMetrics()

	m.RecordStreamMatch()
	m.RecordStreamMatch()
	m.RecordTimerFire(false)
	m.RecordTimerFire(true)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.StreamMatches)
	assert.Equal(t, uint64(2), snap.TimerFires)
	assert.Equal(t, uint64(1), snap.TimerReArmRace)
}

func TestMetricsIpcCompletion(t *testing.T) {
	m := NewMetrics()

	m.RecordIpcCompletion(512, 100_000)
	m.RecordIpcCompletion(1024, 300_000)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.IpcCompletionsEnqueued)
	assert.Equal(t, uint64(1536), snap.IpcBytesTransferred)
	assert.Equal(t, uint64(200_000), snap.AvgLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	assert.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordShootdown(1, 1_000_000)
	m.RecordStreamMatch()

	snap := m.Snapshot()
	assert.NotZero(t, snap.ShootdownsCompleted)

	m.Reset()
	snap = m.Snapshot()
	assert.Zero(t, snap.ShootdownsCompleted)
	assert.Zero(t, snap.StreamMatches)
}

func TestObserverForwarding(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveShootdown(1, 1000)
	observer.ObserveStreamMatch()
	observer.ObserveIpcCompletion(10, 1000)
	observer.ObserveTimerFire(false)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)
	metricsObserver.ObserveShootdown(2, 1_000_000)
	metricsObserver.ObserveStreamMatch()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.ShootdownsCompleted)
	assert.Equal(t, uint64(1), snap.StreamMatches)
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordShootdown(1, 500_000)
	}
	for i := 0; i < 49; i++ {
		m.RecordIpcCompletion(1024, 5_000_000)
	}
	m.RecordIpcCompletion(1024, 50_000_000)

	snap := m.Snapshot()
	assert.InDelta(t, 100, opCountForTest(snap), 0)
	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
}

// opCountForTest exposes the raw op count for the percentile test above
// without adding a public field to the snapshot that production callers
// don't need. The last histogram bucket is cumulative over every recorded
// latency up to 10s, so it equals the op count for these inputs.
func opCountForTest(s MetricsSnapshot) uint64 {
	return s.LatencyHistogram[len(s.LatencyHistogram)-1]
}
