package tools_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

func TestPerformanceTracker_Record(t *testing.T) {
	tracker := tools.NewPerformanceTracker()

	_, ok := tracker.Get("a")
	assert.False(t, ok)

	tracker.Record("a", true, 100*time.Millisecond)
	tracker.Record("a", false, 300*time.Millisecond)

	m, ok := tracker.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(2), m.TotalExecutions)
	assert.Equal(t, int64(1), m.SuccessCount)
	assert.Equal(t, int64(1), m.FailureCount)
	assert.Equal(t, 200*time.Millisecond, m.AverageExecutionTime)
	assert.InDelta(t, 200.0, m.AverageExecutionTimeMs(), 0.001)
	assert.InDelta(t, 0.5, m.SuccessRate(), 0.001)
	assert.False(t, m.LastUpdated.IsZero())
}

func TestPerformanceTracker_RecentWindow(t *testing.T) {
	tracker := tools.NewPerformanceTracker()
	for i := 0; i < 30; i++ {
		tracker.Record("a", true, time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		tracker.Record("a", false, time.Millisecond)
	}

	m, _ := tracker.Get("a")
	rate, ok := m.RecentSuccessRate()
	require.True(t, ok)
	assert.InDelta(t, 0.5, rate, 0.001)
	assert.InDelta(t, 0.75, m.SuccessRate(), 0.001)
}

func TestPerformanceTracker_SnapshotIsolation(t *testing.T) {
	tracker := tools.NewPerformanceTracker()
	tracker.Record("a", true, time.Millisecond)

	snap := tracker.Snapshot()
	m := snap["a"]
	m.Recent[0] = false

	fresh, _ := tracker.Get("a")
	assert.True(t, fresh.Recent[0])
}

func TestPerformanceTracker_Concurrent(t *testing.T) {
	tracker := tools.NewPerformanceTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "a"
			if i%2 == 0 {
				id = "b"
			}
			tracker.Record(id, true, time.Millisecond)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []string{"a", "b"}, tracker.ToolIDs())
	snap := tracker.Snapshot()
	assert.Equal(t, int64(25), snap["a"].TotalExecutions)
	assert.Equal(t, int64(25), snap["b"].TotalExecutions)
}
