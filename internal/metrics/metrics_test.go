package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientTracker_AddRemoveAndSnapshot(t *testing.T) {
	ct := NewClientTracker()
	ct.AddClient("client-1")
	ct.AddClient("client-2")
	require.Equal(t, 2, ct.ActiveCount())

	ct.RecordMessage("client-1", true)
	ct.SetActiveSubscriptions("client-1", 3)

	snap := ct.Snapshot()
	require.Equal(t, 2, snap["active"])

	ct.RemoveClient("client-2")
	require.Equal(t, 1, ct.ActiveCount())
}

func TestClientTracker_RecordMessageIgnoresUnknownClient(t *testing.T) {
	ct := NewClientTracker()
	ct.RecordMessage("ghost", false)
	require.Equal(t, 0, ct.ActiveCount())
}

func TestRateTracker_UnchangedCountYieldsZeroRate(t *testing.T) {
	rt := NewRateTracker()
	rt.Update(0)
	require.Equal(t, 0.0, rt.Rate())
}

func TestSystemMetrics_ReportsHeapStats(t *testing.T) {
	sm := NewSystemMetrics()
	sm.Update()
	stats := sm.GetMemoryStats()
	require.Contains(t, stats, "heap_alloc_mb")
	require.Contains(t, stats, "goroutines")
}
