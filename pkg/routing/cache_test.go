package routing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

func okResult(data interface{}) *tools.ToolResult {
	return &tools.ToolResult{Success: true, Data: data, Metadata: map[string]interface{}{tools.MetadataToolID: "t"}}
}

func TestResultCache_GetOrCompute(t *testing.T) {
	cache := NewResultCache(10, time.Minute)
	var calls atomic.Int32
	compute := func(context.Context) (*tools.ToolResult, bool, error) {
		calls.Add(1)
		return okResult("v"), true, nil
	}

	res, hit, err := cache.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "v", res.Data)

	res2, hit, err := cache.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), calls.Load())

	res2.Metadata[tools.MetadataToolID] = "mutated"
	res3, _, _ := cache.GetOrCompute(context.Background(), "k", compute)
	assert.Equal(t, "t", res3.Metadata[tools.MetadataToolID], "callers get copies")

	entry, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "t", entry.ToolID)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestResultCache_OnlySuccessIsStored(t *testing.T) {
	tests := []struct {
		name    string
		compute ComputeFunc
	}{
		{"error", func(context.Context) (*tools.ToolResult, bool, error) {
			return nil, false, errors.New("fail")
		}},
		{"failed result", func(context.Context) (*tools.ToolResult, bool, error) {
			return &tools.ToolResult{Success: false}, true, nil
		}},
		{"not cacheable", func(context.Context) (*tools.ToolResult, bool, error) {
			return okResult("v"), false, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewResultCache(10, time.Minute)
			_, _, _ = cache.GetOrCompute(context.Background(), "k", tt.compute)
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestResultCache_ExpiryAndClear(t *testing.T) {
	cache := NewResultCache(10, 30*time.Millisecond)
	compute := func(context.Context) (*tools.ToolResult, bool, error) { return okResult("v"), true, nil }

	_, _, err := cache.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	_, ok := cache.Get("k")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = cache.Get("k")
	assert.False(t, ok, "entry expired")

	_, _, _ = cache.GetOrCompute(context.Background(), "k", compute)
	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestResultCache_LRUEviction(t *testing.T) {
	cache := NewResultCache(2, time.Minute)
	for _, k := range []string{"a", "b", "c"} {
		key := k
		_, _, err := cache.GetOrCompute(context.Background(), key, func(context.Context) (*tools.ToolResult, bool, error) {
			return okResult(key), true, nil
		})
		require.NoError(t, err)
	}
	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestResultCache_SingleFlight(t *testing.T) {
	cache := NewResultCache(10, time.Minute)
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	var calls atomic.Int32
	compute := func(context.Context) (*tools.ToolResult, bool, error) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return okResult("shared"), true, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	var hits atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, hit, err := cache.GetOrCompute(context.Background(), "k", compute)
			assert.NoError(t, err)
			assert.Equal(t, "shared", res.Data)
			if hit {
				hits.Add(1)
			}
		}()
	}

	<-started
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(callers-1), hits.Load(), "everyone but the leader shares the result")
}

func TestResultCache_WaiterCancellation(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
		want error
	}{
		{"cancelled", func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) }, tools.ErrExecutionCancelled},
		{"deadline", func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 20*time.Millisecond)
		}, tools.ErrToolTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewResultCache(10, time.Minute)
			stopped := make(chan struct{})
			compute := func(ctx context.Context) (*tools.ToolResult, bool, error) {
				<-ctx.Done()
				close(stopped)
				return nil, false, ctx.Err()
			}

			ctx, cancel := tt.ctx()
			defer cancel()
			done := make(chan error, 1)
			go func() {
				_, _, err := cache.GetOrCompute(ctx, "k", compute)
				done <- err
			}()
			if tt.want == tools.ErrExecutionCancelled {
				cancel()
			}

			err := <-done
			var toolErr *tools.ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.ErrorIs(t, err, tt.want)

			select {
			case <-stopped:
			case <-time.After(time.Second):
				t.Fatal("computation kept running after its only caller left")
			}
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestResultCache_SharedFlightOutlivesOneWaiter(t *testing.T) {
	cache := NewResultCache(10, time.Minute)
	release := make(chan struct{})
	started := make(chan struct{})
	compute := func(ctx context.Context) (*tools.ToolResult, bool, error) {
		close(started)
		select {
		case <-release:
			return okResult("kept"), true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	leaving, leave := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, _, err := cache.GetOrCompute(leaving, "k", compute)
		first <- err
	}()
	<-started

	second := make(chan *tools.ToolResult, 1)
	go func() {
		res, _, err := cache.GetOrCompute(context.Background(), "k", compute)
		assert.NoError(t, err)
		second <- res
	}()
	time.Sleep(20 * time.Millisecond)

	leave()
	assert.ErrorIs(t, <-first, tools.ErrExecutionCancelled)

	close(release)
	res := <-second
	require.NotNil(t, res)
	assert.Equal(t, "kept", res.Data)
	assert.Equal(t, 1, cache.Len())
}

func TestResultCache_ClearDropsInFlightResult(t *testing.T) {
	cache := NewResultCache(10, time.Minute)
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	slow := func(context.Context) (*tools.ToolResult, bool, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return okResult("v"), true, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := cache.GetOrCompute(context.Background(), "k", slow)
		assert.NoError(t, err)
	}()
	<-started

	cache.Clear()
	close(release)
	<-done
	assert.Equal(t, 0, cache.Len(), "a flight begun before Clear does not repopulate")

	_, hit, err := cache.GetOrCompute(context.Background(), "k", slow)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDefaultKeyFunc(t *testing.T) {
	key := DefaultKeyFunc([]string{"trace"})
	ctx := tools.NewExecutionContext(tools.Initiator{Kind: tools.InitiatorAgent, ID: "a"},
		tools.WithCapabilities(tools.CapabilityEmailSend, tools.CapabilityWebSearch))
	reordered := tools.NewExecutionContext(tools.Initiator{Kind: tools.InitiatorUser, ID: "b"},
		tools.WithCapabilities(tools.CapabilityWebSearch, tools.CapabilityEmailSend))

	base := KeyInput{
		Intent:       "Send Email",
		Params:       map[string]interface{}{"to": "a@b.com", "subject": "Hi", "trace": "1"},
		Context:      ctx,
		CandidateIDs: []string{"b", "a"},
	}
	k1, err := key(base)
	require.NoError(t, err)

	same := KeyInput{
		Intent:       "  send   email ",
		Params:       map[string]interface{}{"subject": "Hi", "to": "a@b.com", "trace": "2"},
		Context:      reordered,
		CandidateIDs: []string{"a", "b"},
	}
	k2, err := key(same)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	changed := base
	changed.Params = map[string]interface{}{"to": "c@d.com", "subject": "Hi"}
	k3, err := key(changed)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	changed = base
	changed.CandidateIDs = []string{"a"}
	k4, err := key(changed)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)

	_, err = key(KeyInput{Params: map[string]interface{}{"bad": make(chan int)}})
	assert.Error(t, err)
}
