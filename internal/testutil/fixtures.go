// Package testutil provides shared fixtures for dispatch tests: counting,
// latency and failing executors, tool builders and execution contexts.
//
// This package is internal and should not be imported by external code.
package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// ErrBoom is the fault raised by FailingExecutor when none is given.
var ErrBoom = errors.New("boom")

// CountingExecutor counts invocations and returns Data after Latency.
// A non-nil Err makes every call fail.
type CountingExecutor struct {
	Data    interface{}
	Latency time.Duration
	Err     error

	calls atomic.Int64

	mu      sync.Mutex
	started []time.Time
	ended   []time.Time
	params  []map[string]interface{}
}

// NewCountingExecutor returns an executor that succeeds with data.
func NewCountingExecutor(data interface{}) *CountingExecutor {
	return &CountingExecutor{Data: data}
}

// NewLatencyExecutor returns an executor that succeeds after d.
func NewLatencyExecutor(d time.Duration, data interface{}) *CountingExecutor {
	return &CountingExecutor{Data: data, Latency: d}
}

// NewFailingExecutor returns an executor whose every call fails with err.
func NewFailingExecutor(err error) *CountingExecutor {
	if err == nil {
		err = ErrBoom
	}
	return &CountingExecutor{Err: err}
}

// Invoke implements tools.ToolExecutor.
func (c *CountingExecutor) Invoke(ctx context.Context, params map[string]interface{}, _ *tools.ExecutionContext) (*tools.ToolResult, error) {
	c.calls.Add(1)
	start := time.Now()
	defer func() {
		c.mu.Lock()
		c.started = append(c.started, start)
		c.ended = append(c.ended, time.Now())
		c.params = append(c.params, params)
		c.mu.Unlock()
	}()

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return &tools.ToolResult{Success: true, Data: c.Data}, nil
}

// Calls returns the number of invocations so far.
func (c *CountingExecutor) Calls() int {
	return int(c.calls.Load())
}

// Started returns the start time of the i-th invocation.
func (c *CountingExecutor) Started(i int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started[i]
}

// Ended returns the completion time of the i-th invocation.
func (c *CountingExecutor) Ended(i int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended[i]
}

// Params returns the parameters of the i-th invocation.
func (c *CountingExecutor) Params(i int) map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params[i]
}

// BlockingExecutor holds every call until Release is closed or the
// context ends. Entered receives one value per call that has started.
type BlockingExecutor struct {
	Release chan struct{}
	Entered chan struct{}
	calls   atomic.Int64
}

// NewBlockingExecutor creates a BlockingExecutor with a buffered Entered
// channel.
func NewBlockingExecutor() *BlockingExecutor {
	return &BlockingExecutor{
		Release: make(chan struct{}),
		Entered: make(chan struct{}, 64),
	}
}

// Invoke implements tools.ToolExecutor.
func (b *BlockingExecutor) Invoke(ctx context.Context, _ map[string]interface{}, _ *tools.ExecutionContext) (*tools.ToolResult, error) {
	b.calls.Add(1)
	b.Entered <- struct{}{}
	select {
	case <-b.Release:
		return &tools.ToolResult{Success: true, Data: "released"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Calls returns the number of invocations so far.
func (b *BlockingExecutor) Calls() int {
	return int(b.calls.Load())
}

// NewTool builds a valid tool with an open object schema.
func NewTool(id, name string, exec tools.ToolExecutor, caps ...tools.Capability) *tools.Tool {
	return &tools.Tool{
		ID:           id,
		Name:         name,
		Description:  "test tool " + name,
		Category:     tools.CategoryUtility,
		Capabilities: caps,
		Schema: &tools.ToolSchema{
			Type:       "object",
			Properties: map[string]*tools.Property{},
		},
		Metadata: &tools.ToolMetadata{Version: "1.0.0"},
		Executor: exec,
	}
}

// NewEmailTool builds the send_email tool used across scenarios.
func NewEmailTool(id string, exec tools.ToolExecutor) *tools.Tool {
	t := NewTool(id, "send_email", exec, tools.CapabilityEmailSend)
	t.Category = tools.CategoryCommunication
	t.Description = "Send an email message to a recipient"
	t.Schema = &tools.ToolSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"to":      {Type: "string", Format: "email"},
			"subject": {Type: "string"},
			"body":    {Type: "string"},
		},
		Required: []string{"to"},
	}
	return t
}

// NewInstance builds an interchangeable instance of a logical tool.
func NewInstance(id, logical string, latency time.Duration, exec tools.ToolExecutor, caps ...tools.Capability) *tools.Tool {
	t := NewTool(id, id, exec, caps...)
	t.LogicalName = logical
	t.Metadata.ExpectedLatency = latency
	return t
}

// Context returns an agent-initiated execution context.
func Context(opts ...tools.ContextOption) *tools.ExecutionContext {
	return tools.NewExecutionContext(tools.Initiator{Kind: tools.InitiatorAgent, ID: "test-agent"}, opts...)
}

// Registry builds a registry holding list and fails the test on any
// registration error.
func Registry(t testing.TB, list ...*tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range list {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}
