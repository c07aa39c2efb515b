package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Executor manages the execution of tools.
// It resolves definitions, validates calls, bounds concurrency, enforces
// deadlines and normalizes results and errors. It is the only component
// that invokes a ToolExecutor; routing and composition go through it.
type Executor struct {
	registry   *Registry
	validation *ValidationService
	tracker    *PerformanceTracker
	logger     logrus.FieldLogger

	// Configuration
	maxConcurrent  int
	defaultTimeout time.Duration
	slots          *semaphore.Weighted

	// Execution tracking
	mu         sync.RWMutex
	executions map[string]*executionState

	// Hooks for extensibility
	beforeExecute []ExecutionHook
	afterExecute  []ResultHook
}

// executionState tracks the state of a single tool execution.
type executionState struct {
	toolID    string
	startTime time.Time
	cancel    context.CancelFunc
}

// ExecutionHook runs after validation and before invocation. A non-nil
// error rejects the call.
type ExecutionHook func(ctx context.Context, tool *Tool, params map[string]interface{}, execCtx *ExecutionContext) error

// ResultHook observes every completed execution.
type ResultHook func(ctx context.Context, tool *Tool, result *ToolResult, err error)

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithMaxConcurrent sets the maximum number of concurrent executions.
func WithMaxConcurrent(max int) ExecutorOption {
	return func(e *Executor) {
		e.maxConcurrent = max
	}
}

// WithDefaultTimeout sets the deadline for tools without their own timeout.
func WithDefaultTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.defaultTimeout = timeout
	}
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger logrus.FieldLogger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithPerformanceTracker shares a tracker with other components.
func WithPerformanceTracker(tracker *PerformanceTracker) ExecutorOption {
	return func(e *Executor) {
		e.tracker = tracker
	}
}

// WithCallValidation replaces the call-time validation service.
func WithCallValidation(svc *ValidationService) ExecutorOption {
	return func(e *Executor) {
		e.validation = svc
	}
}

// NewExecutor creates a new executor over registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:       registry,
		validation:     NewValidationService(),
		tracker:        NewPerformanceTracker(),
		logger:         discardLogger(),
		maxConcurrent:  100,
		defaultTimeout: 30 * time.Second,
		executions:     make(map[string]*executionState),
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.maxConcurrent <= 0 {
		e.maxConcurrent = 100
	}
	e.slots = semaphore.NewWeighted(int64(e.maxConcurrent))

	return e
}

type invocation struct {
	result *ToolResult
	err    error
}

// Execute runs a tool by id (or name). The returned result is never nil:
// on failure it carries the structured error, and the error return is a
// *ToolError whose type names the failing stage.
func (e *Executor) Execute(ctx context.Context, toolID string, params map[string]interface{}, execCtx *ExecutionContext) (*ToolResult, error) {
	started := time.Now()
	runID := uuid.NewString()

	tool := e.registry.Find(toolID)
	if tool == nil || tool.Disabled {
		err := NewToolNotFoundError(toolID)
		return e.failure(toolID, runID, execCtx, started, err), err
	}
	log := e.logger.WithFields(logrus.Fields{
		"tool_id":      tool.ID,
		"execution_id": runID,
	})

	params = ApplyDefaults(tool.Schema, params)
	if res := e.validation.ValidateCall(tool, params, execCtx); !res.Valid {
		err := NewToolValidationError(tool.ID, res)
		return e.finish(ctx, tool, runID, execCtx, started, nil, err), err
	}

	before, _ := e.hooks()
	for _, hook := range before {
		if hookErr := hook(ctx, tool, params, execCtx); hookErr != nil {
			err := NewToolError(ErrorTypeValidation, "PRE_EXECUTE_REJECTED", "pre-execution hook rejected the call").
				WithToolID(tool.ID).
				WithCause(hookErr)
			return e.finish(ctx, tool, runID, execCtx, started, nil, err), err
		}
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		cerr := NewCancelledError(tool.ID, err)
		return e.finish(ctx, tool, runID, execCtx, started, nil, cerr), cerr
	}
	defer e.slots.Release(1)

	timeout := e.defaultTimeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.track(runID, tool.ID, cancel)
	defer e.untrack(runID)

	log.Debug("invoking tool")
	invokedAt := time.Now()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{err: fmt.Errorf("tool execution panicked: %v", r)}
			}
		}()
		res, err := tool.Executor.Invoke(runCtx, params, execCtx)
		done <- invocation{result: res, err: err}
	}()

	var out invocation
	select {
	case out = <-done:
	case <-runCtx.Done():
		// the executor goroutine observes runCtx and its late result is dropped
	}

	var err error
	switch {
	case runCtx.Err() != nil && (out.err != nil || out.result == nil):
		err = e.interruption(ctx, runCtx, tool.ID, timeout)
	case out.err != nil:
		err = NewToolExecutionError(tool.ID, out.err)
	case out.result != nil && !out.result.Success:
		err = NewToolExecutionError(tool.ID, resultFault(out.result))
	}

	result := out.result.Clone()
	if result != nil {
		result.StartedAt = invokedAt
	}
	result = e.finish(ctx, tool, runID, execCtx, started, result, err)
	if err != nil {
		log.WithError(err).Debug("tool execution failed")
	}
	return result, err
}

// interruption classifies a call cut short by its context: the tool's own
// deadline, the caller's deadline, or a cancellation.
func (e *Executor) interruption(parent, runCtx context.Context, toolID string, timeout time.Duration) error {
	switch {
	case parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return NewToolTimeoutError(toolID, timeout)
	case parent.Err() == nil:
		return NewCancelledError(toolID, runCtx.Err())
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return NewToolTimeoutError(toolID, timeout).WithDetail("deadline", "caller")
	default:
		return NewCancelledError(toolID, parent.Err())
	}
}

// resultFault turns a result that reports failure into an error.
func resultFault(res *ToolResult) error {
	if res.Error != nil {
		return fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
	}
	return errors.New("tool reported failure")
}

// finish stamps timing and metadata on the result, records the
// performance sample and runs result hooks.
func (e *Executor) finish(ctx context.Context, tool *Tool, runID string, execCtx *ExecutionContext, started time.Time, result *ToolResult, err error) *ToolResult {
	if result == nil {
		result = &ToolResult{Success: err == nil, StartedAt: started}
	}
	if err != nil {
		result.Success = false
		if result.Error == nil {
			result.Error = toResultError(err)
		}
	}
	if result.StartedAt.IsZero() {
		result.StartedAt = started
	}
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)
	e.stamp(result, tool.ID, runID, execCtx)

	e.tracker.Record(tool.ID, err == nil, result.Duration)

	_, after := e.hooks()
	for _, hook := range after {
		hook(ctx, tool, result, err)
	}
	return result
}

// failure builds the result for a call that never resolved a tool.
func (e *Executor) failure(toolID, runID string, execCtx *ExecutionContext, started time.Time, err error) *ToolResult {
	now := time.Now()
	result := &ToolResult{
		Success:     false,
		Error:       toResultError(err),
		StartedAt:   started,
		CompletedAt: now,
		Duration:    now.Sub(started),
	}
	e.stamp(result, toolID, runID, execCtx)
	return result
}

func (e *Executor) stamp(result *ToolResult, toolID, runID string, execCtx *ExecutionContext) {
	if result.Metadata == nil {
		result.Metadata = make(map[string]interface{})
	}
	result.Metadata[MetadataToolID] = toolID
	result.Metadata[MetadataExecutionID] = runID
	if execCtx != nil {
		result.Metadata[MetadataContextID] = execCtx.ExecutionID
	}
}

func (e *Executor) hooks() ([]ExecutionHook, []ResultHook) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.beforeExecute, e.afterExecute
}

// track records an active execution.
func (e *Executor) track(runID, toolID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.executions[runID] = &executionState{
		toolID:    toolID,
		startTime: time.Now(),
		cancel:    cancel,
	}
}

// untrack removes an execution from tracking.
func (e *Executor) untrack(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.executions, runID)
}

// Tracker returns the performance tracker fed by this executor.
func (e *Executor) Tracker() *PerformanceTracker {
	return e.tracker
}

// Registry returns the registry the executor resolves tools from.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// CancelAll cancels all active executions.
func (e *Executor) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, exec := range e.executions {
		exec.cancel()
	}
}

// AddBeforeExecuteHook adds a hook to run before tool execution.
func (e *Executor) AddBeforeExecuteHook(hook ExecutionHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beforeExecute = append(e.beforeExecute, hook)
}

// AddAfterExecuteHook adds a hook to run after tool execution.
func (e *Executor) AddAfterExecuteHook(hook ResultHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.afterExecute = append(e.afterExecute, hook)
}

// ActiveExecutions returns the number of in-flight executions.
func (e *Executor) ActiveExecutions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.executions)
}

// IsExecuting checks if a specific tool is currently executing.
func (e *Executor) IsExecuting(toolID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, exec := range e.executions {
		if exec.toolID == toolID {
			return true
		}
	}
	return false
}

// OldestExecution returns how long the longest-running execution has run.
func (e *Executor) OldestExecution() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var oldest time.Duration
	for _, exec := range e.executions {
		if d := time.Since(exec.startTime); d > oldest {
			oldest = d
		}
	}
	return oldest
}
