package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common error variables for tool operations. A *ToolError matches the
// sentinel for its Type under errors.Is.
var (
	// ErrToolNotFound indicates a requested tool doesn't exist or is disabled
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolValidation indicates a bad definition or bad call-time input
	ErrToolValidation = errors.New("tool validation failed")

	// ErrToolExecution indicates the tool's executor raised a fault
	ErrToolExecution = errors.New("tool execution failed")

	// ErrToolTimeout indicates tool execution exceeded its deadline
	ErrToolTimeout = errors.New("tool execution timeout")

	// ErrCircuitOpen indicates a fast-fail because breakers are open
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrComposition indicates a plan could not be built or was invalid
	ErrComposition = errors.New("composition failed")

	// ErrDuplicateTool indicates a registration collision
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrConcurrencyLimit indicates a per-tool or global concurrency limit
	ErrConcurrencyLimit = errors.New("concurrency limit reached")

	// ErrExecutionCancelled indicates the caller cancelled the execution
	ErrExecutionCancelled = errors.New("execution cancelled")
)

// ErrorType categorizes tool errors.
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeExecution    ErrorType = "execution"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeCircuitOpen  ErrorType = "circuit_open"
	ErrorTypeComposition  ErrorType = "composition"
	ErrorTypeDuplicate    ErrorType = "duplicate"
	ErrorTypeConcurrency  ErrorType = "concurrency"
	ErrorTypeCancellation ErrorType = "cancellation"
)

var sentinelByType = map[ErrorType]error{
	ErrorTypeNotFound:     ErrToolNotFound,
	ErrorTypeValidation:   ErrToolValidation,
	ErrorTypeExecution:    ErrToolExecution,
	ErrorTypeTimeout:      ErrToolTimeout,
	ErrorTypeCircuitOpen:  ErrCircuitOpen,
	ErrorTypeComposition:  ErrComposition,
	ErrorTypeDuplicate:    ErrDuplicateTool,
	ErrorTypeConcurrency:  ErrConcurrencyLimit,
	ErrorTypeCancellation: ErrExecutionCancelled,
}

// ToolError represents a detailed error from tool operations.
type ToolError struct {
	// Type categorizes the error and names the failing stage
	Type ErrorType

	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// ToolID identifies the tool that caused the error
	ToolID string

	// Details provides additional error context
	Details map[string]interface{}

	// Cause is the underlying error, if any
	Cause error

	// Timestamp is when the error occurred
	Timestamp time.Time

	// Retryable indicates if the operation can be retried
	Retryable bool

	// RetryAfter suggests when to retry (if retryable)
	RetryAfter *time.Duration
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.ToolID != "" {
		parts = append(parts, fmt.Sprintf("tool %q", e.ToolID))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("caused by: %v", e.Cause))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's type, or another *ToolError
// with the same type and code.
func (e *ToolError) Is(target error) bool {
	if target == nil {
		return false
	}

	if sentinel, ok := sentinelByType[e.Type]; ok && sentinel == target {
		return true
	}

	if targetErr, ok := target.(*ToolError); ok {
		return e.Type == targetErr.Type && e.Code == targetErr.Code
	}

	return false
}

// NewToolError creates a new tool error.
func NewToolError(errType ErrorType, code, message string) *ToolError {
	return &ToolError{
		Type:      errType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// WithToolID adds a tool ID to the error.
func (e *ToolError) WithToolID(toolID string) *ToolError {
	e.ToolID = toolID
	return e
}

// WithCause adds an underlying cause to the error.
func (e *ToolError) WithCause(cause error) *ToolError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error.
func (e *ToolError) WithDetail(key string, value interface{}) *ToolError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetry marks the error as retryable.
func (e *ToolError) WithRetry(after time.Duration) *ToolError {
	e.Retryable = true
	e.RetryAfter = &after
	return e
}

// NewToolNotFoundError reports an unknown or disabled tool.
func NewToolNotFoundError(toolID string) *ToolError {
	return NewToolError(ErrorTypeNotFound, "TOOL_NOT_FOUND", "tool not found or disabled").
		WithToolID(toolID)
}

// NewDuplicateToolError reports a registration collision on id or name.
func NewDuplicateToolError(toolID, field, value string) *ToolError {
	return NewToolError(ErrorTypeDuplicate, "DUPLICATE_TOOL",
		fmt.Sprintf("tool with %s %q already registered", field, value)).
		WithToolID(toolID)
}

// NewToolValidationError converts a failed ValidationResult into an error.
func NewToolValidationError(toolID string, result ValidationResult) *ToolError {
	msgs := make([]string, 0, len(result.Errors))
	for _, issue := range result.Errors {
		msgs = append(msgs, issue.Error())
	}
	return NewToolError(ErrorTypeValidation, "VALIDATION_FAILED", strings.Join(msgs, "; ")).
		WithToolID(toolID).
		WithDetail("errors", result.Errors)
}

// NewToolExecutionError wraps a fault raised by a tool's executor.
func NewToolExecutionError(toolID string, cause error) *ToolError {
	msg := "executor failed"
	if cause != nil {
		msg = cause.Error()
	}
	return NewToolError(ErrorTypeExecution, "EXECUTION_ERROR", msg).
		WithToolID(toolID).
		WithCause(cause)
}

// NewToolTimeoutError reports an execution that exceeded its deadline.
func NewToolTimeoutError(toolID string, timeout time.Duration) *ToolError {
	return NewToolError(ErrorTypeTimeout, "TIMEOUT",
		fmt.Sprintf("execution exceeded deadline of %s", timeout)).
		WithToolID(toolID).
		WithCause(context.DeadlineExceeded)
}

// NewCircuitOpenError reports a fast-fail: no healthy candidate is available.
func NewCircuitOpenError(toolID string, retryAfter time.Duration) *ToolError {
	err := NewToolError(ErrorTypeCircuitOpen, "CIRCUIT_OPEN", "circuit breaker is open").
		WithToolID(toolID)
	if retryAfter > 0 {
		err.WithRetry(retryAfter)
	}
	return err
}

// NewCompositionError reports a plan that could not be built or executed.
func NewCompositionError(code, message string) *ToolError {
	return NewToolError(ErrorTypeComposition, code, message)
}

// NewConcurrencyLimitError reports a rejected call over a concurrency limit.
func NewConcurrencyLimitError(toolID string, limit int) *ToolError {
	return NewToolError(ErrorTypeConcurrency, "CONCURRENCY_LIMIT",
		fmt.Sprintf("maximum of %d concurrent executions reached", limit)).
		WithToolID(toolID)
}

// NewCancelledError reports a caller-cancelled execution.
func NewCancelledError(toolID string, cause error) *ToolError {
	return NewToolError(ErrorTypeCancellation, "CANCELLED", "execution was cancelled").
		WithToolID(toolID).
		WithCause(cause)
}

// TypeOf returns the ErrorType of err, or "" if err is not a *ToolError.
func TypeOf(err error) ErrorType {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Type
	}
	return ""
}

// IsRetryableFailure reports whether err is a per-attempt execution
// failure that should move routing on to the next candidate.
func IsRetryableFailure(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeExecution, ErrorTypeTimeout, ErrorTypeCircuitOpen, ErrorTypeConcurrency:
		return true
	}
	return false
}

// toResultError converts err into the structured form carried by results.
func toResultError(err error) *ResultError {
	if err == nil {
		return nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return &ResultError{
			Code:    toolErr.Code,
			Message: toolErr.Message,
			Details: cloneMap(toolErr.Details),
		}
	}
	return &ResultError{Code: "EXECUTION_ERROR", Message: err.Error()}
}
