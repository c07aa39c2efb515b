package routing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// LoadBalancer picks among interchangeable instances and bounds the
// number of concurrent executions per tool.
type LoadBalancer struct {
	cfg BalancerConfig

	mu       sync.Mutex
	cursors  map[string]uint64
	slots    map[string]chan struct{}
	rejected map[string]int64
}

// NewLoadBalancer creates a balancer.
func NewLoadBalancer(cfg BalancerConfig) *LoadBalancer {
	return &LoadBalancer{
		cfg:      cfg,
		cursors:  make(map[string]uint64),
		slots:    make(map[string]chan struct{}),
		rejected: make(map[string]int64),
	}
}

// Select picks one candidate of a ranked (best first) list of instances
// sharing logicalName. It returns the index into ranked, or -1 when
// ranked is empty.
func (b *LoadBalancer) Select(logicalName string, ranked []Candidate, strategy Strategy) int {
	if len(ranked) == 0 {
		return -1
	}
	if strategy == "" {
		strategy = b.cfg.Strategy
	}

	switch strategy {
	case StrategyRoundRobin:
		order := make([]int, len(ranked))
		for i := range order {
			order[i] = i
		}
		// rotate over a stable id order, not the score order
		sort.Slice(order, func(i, j int) bool {
			return ranked[order[i]].Tool.ID < ranked[order[j]].Tool.ID
		})
		b.mu.Lock()
		n := b.cursors[logicalName]
		b.cursors[logicalName] = n + 1
		b.mu.Unlock()
		return order[n%uint64(len(order))]

	case StrategyLeastLoaded:
		best, bestLoad := 0, b.Active(ranked[0].Tool.ID)
		for i := 1; i < len(ranked); i++ {
			if load := b.Active(ranked[i].Tool.ID); load < bestLoad {
				best, bestLoad = i, load
			}
		}
		return best
	}
	return 0
}

func (b *LoadBalancer) sem(toolID string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[toolID]
	if !ok {
		s = make(chan struct{}, b.cfg.MaxConcurrentPerTool)
		b.slots[toolID] = s
	}
	return s
}

// Acquire takes an execution slot for toolID. Under the reject policy a
// full tool fails immediately; under the queue policy the caller waits
// up to the queue timeout. The returned release func must be called
// exactly once.
func (b *LoadBalancer) Acquire(ctx context.Context, toolID string) (func(), error) {
	s := b.sem(toolID)
	release := func() { <-s }

	select {
	case s <- struct{}{}:
		return release, nil
	default:
	}

	if b.cfg.Overflow == OverflowReject {
		b.reject(toolID)
		return nil, tools.NewConcurrencyLimitError(toolID, b.cfg.MaxConcurrentPerTool)
	}

	wait := b.cfg.QueueTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return release, nil
	case <-timer.C:
		b.reject(toolID)
		return nil, tools.NewConcurrencyLimitError(toolID, b.cfg.MaxConcurrentPerTool).
			WithDetail("queued_for", wait.String())
	case <-ctx.Done():
		return nil, tools.NewCancelledError(toolID, ctx.Err())
	}
}

func (b *LoadBalancer) reject(toolID string) {
	b.mu.Lock()
	b.rejected[toolID]++
	b.mu.Unlock()
}

// Active returns the executions currently holding a slot for toolID.
func (b *LoadBalancer) Active(toolID string) int {
	b.mu.Lock()
	s, ok := b.slots[toolID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return len(s)
}

// TotalActive sums Active over every tool.
func (b *LoadBalancer) TotalActive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, s := range b.slots {
		total += len(s)
	}
	return total
}

// Rejected returns how many callers were turned away for toolID.
func (b *LoadBalancer) Rejected(toolID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected[toolID]
}
