package tools

import (
	"sort"
	"sync"
	"time"
)

// recentWindow is the number of most recent outcomes kept per tool.
const recentWindow = 20

// PerformanceMetric is a per-tool rolling aggregate of execution samples.
type PerformanceMetric struct {
	ToolID               string        `json:"toolId"`
	TotalExecutions      int64         `json:"totalExecutions"`
	SuccessCount         int64         `json:"successCount"`
	FailureCount         int64         `json:"failureCount"`
	AverageExecutionTime time.Duration `json:"averageExecutionTime"`
	LastUpdated          time.Time     `json:"lastUpdated"`

	// Recent holds the last outcomes, oldest first
	Recent []bool `json:"recent,omitempty"`
}

// AverageExecutionTimeMs returns the mean duration in milliseconds.
func (m PerformanceMetric) AverageExecutionTimeMs() float64 {
	return float64(m.AverageExecutionTime) / float64(time.Millisecond)
}

// SuccessRate returns the lifetime success ratio, or 0 without samples.
func (m PerformanceMetric) SuccessRate() float64 {
	if m.TotalExecutions == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.TotalExecutions)
}

// RecentSuccessRate returns the success ratio over the recent window.
// The second value is false when there are no samples.
func (m PerformanceMetric) RecentSuccessRate() (float64, bool) {
	if len(m.Recent) == 0 {
		return 0, false
	}
	ok := 0
	for _, s := range m.Recent {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(m.Recent)), true
}

// perfCell is one tool's metric behind its own lock, so samples for
// different tools never contend.
type perfCell struct {
	mu     sync.Mutex
	metric PerformanceMetric
	total  time.Duration
}

// PerformanceTracker records execution samples per tool.
type PerformanceTracker struct {
	mu    sync.RWMutex
	cells map[string]*perfCell
}

// NewPerformanceTracker creates an empty tracker.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{cells: make(map[string]*perfCell)}
}

func (p *PerformanceTracker) cell(toolID string) *perfCell {
	p.mu.RLock()
	c, ok := p.cells[toolID]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok = p.cells[toolID]; ok {
		return c
	}
	c = &perfCell{metric: PerformanceMetric{ToolID: toolID}}
	p.cells[toolID] = c
	return c
}

// Record adds one sample for toolID.
func (p *PerformanceTracker) Record(toolID string, success bool, duration time.Duration) {
	c := p.cell(toolID)
	c.mu.Lock()
	defer c.mu.Unlock()

	m := &c.metric
	m.TotalExecutions++
	if success {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}
	c.total += duration
	m.AverageExecutionTime = c.total / time.Duration(m.TotalExecutions)
	m.LastUpdated = time.Now()

	m.Recent = append(m.Recent, success)
	if len(m.Recent) > recentWindow {
		m.Recent = m.Recent[len(m.Recent)-recentWindow:]
	}
}

// Get returns a snapshot of one tool's metric.
func (p *PerformanceTracker) Get(toolID string) (PerformanceMetric, bool) {
	p.mu.RLock()
	c, ok := p.cells[toolID]
	p.mu.RUnlock()
	if !ok {
		return PerformanceMetric{ToolID: toolID}, false
	}
	return c.snapshot(), true
}

// Snapshot returns copies of every tool's metric, keyed by tool id.
func (p *PerformanceTracker) Snapshot() map[string]PerformanceMetric {
	p.mu.RLock()
	cells := make([]*perfCell, 0, len(p.cells))
	for _, c := range p.cells {
		cells = append(cells, c)
	}
	p.mu.RUnlock()

	out := make(map[string]PerformanceMetric, len(cells))
	for _, c := range cells {
		m := c.snapshot()
		out[m.ToolID] = m
	}
	return out
}

// ToolIDs lists tools with at least one sample, sorted.
func (p *PerformanceTracker) ToolIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.cells))
	for id := range p.cells {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset drops all samples.
func (p *PerformanceTracker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cells = make(map[string]*perfCell)
}

func (c *perfCell) snapshot() PerformanceMetric {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metric
	m.Recent = append([]bool(nil), c.metric.Recent...)
	return m
}
