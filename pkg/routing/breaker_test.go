package routing

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreakers(threshold int, recovery time.Duration) (*BreakerSet, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	set := NewBreakerSet(BreakerConfig{FailureThreshold: threshold, RecoveryTime: recovery}, nil)
	set.now = clock.Now
	return set, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	set, _ := newTestBreakers(3, time.Minute)
	b := set.get("tool")

	for i := 0; i < 2; i++ {
		require.True(t, b.allow())
		b.recordFailure()
	}
	assert.Equal(t, StateClosed, set.State("tool").State)

	b.recordFailure()
	state := set.State("tool")
	assert.Equal(t, StateOpen, state.State)
	assert.Equal(t, 3, state.FailureCount)
	assert.False(t, b.allow())

	_, ok := b.available()
	assert.False(t, ok)
	assert.Equal(t, time.Minute, b.retryAfter())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	set, _ := newTestBreakers(3, time.Minute)
	b := set.get("tool")

	b.recordFailure()
	b.recordFailure()
	b.recordSuccess()
	b.recordFailure()
	b.recordFailure()

	assert.Equal(t, StateClosed, set.State("tool").State, "failures must be consecutive")
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	set, clock := newTestBreakers(1, 30*time.Second)
	b := set.get("tool")
	b.recordFailure()
	require.Equal(t, StateOpen, set.State("tool").State)

	clock.Advance(29 * time.Second)
	assert.False(t, b.allow(), "still inside the recovery window")
	assert.Equal(t, time.Second, b.retryAfter())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, set.State("tool").State)
	assert.True(t, b.allow())
	assert.False(t, b.allow(), "only one trial call in HALF_OPEN")

	_, ok := b.available()
	assert.False(t, ok, "a tool with its trial in flight is not offered to scoring")

	b.recordSuccess()
	state := set.State("tool")
	assert.Equal(t, StateClosed, state.State)
	assert.Equal(t, 0, state.FailureCount)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	set, clock := newTestBreakers(1, 10*time.Second)
	b := set.get("tool")
	b.recordFailure()

	clock.Advance(10 * time.Second)
	require.True(t, b.allow())
	b.recordFailure()

	assert.Equal(t, StateOpen, set.State("tool").State)
	assert.Equal(t, 10*time.Second, b.retryAfter(), "recovery timer restarts")

	clock.Advance(5 * time.Second)
	assert.False(t, b.allow())
}

func TestBreaker_ReleaseFreesTrial(t *testing.T) {
	set, clock := newTestBreakers(1, time.Second)
	b := set.get("tool")
	b.recordFailure()
	clock.Advance(time.Second)

	require.True(t, b.allow())
	b.release()
	assert.Equal(t, StateHalfOpen, set.State("tool").State)
	assert.True(t, b.allow())
}

func TestBreaker_ConcurrentTrial(t *testing.T) {
	set, clock := newTestBreakers(1, time.Second)
	b := set.get("tool")
	b.recordFailure()
	clock.Advance(time.Second)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestBreakerSet_StateHookAndReset(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Now()}
	set := NewBreakerSet(BreakerConfig{FailureThreshold: 1, RecoveryTime: time.Second},
		func(id string, from, to BreakerState) {
			transitions = append(transitions, id+":"+string(from)+"->"+string(to))
		})
	set.now = clock.Now

	set.get("a").recordFailure()
	set.Reset("a")

	assert.Equal(t, []string{"a:CLOSED->OPEN", "a:OPEN->CLOSED"}, transitions)
	assert.Equal(t, StateClosed, set.State("a").State)
}

func TestBreakerSet_Snapshot(t *testing.T) {
	set, _ := newTestBreakers(5, time.Second)
	set.get("b").recordFailure()
	set.get("a")

	snap := set.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ToolID)
	assert.Equal(t, 1, snap[1].FailureCount)
	assert.Equal(t, int64(1000), snap[1].RecoveryTimeMs())

	unknown := set.State("never-routed")
	assert.Equal(t, StateClosed, unknown.State)
	assert.Len(t, set.Snapshot(), 2, "reading state does not allocate breakers")

	set.Forget("b")
	assert.Len(t, set.Snapshot(), 1)
}
