package transport

import (
	"context"
	"errors"
	"strconv"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// ErrorDomain names the errdetails.ErrorInfo domain attached to dispatch errors.
const ErrorDomain = "dispatch"

var typeCodes = map[tools.ErrorType]codes.Code{
	tools.ErrorTypeNotFound:     codes.NotFound,
	tools.ErrorTypeValidation:   codes.InvalidArgument,
	tools.ErrorTypeExecution:    codes.Aborted,
	tools.ErrorTypeTimeout:      codes.DeadlineExceeded,
	tools.ErrorTypeCircuitOpen:  codes.Unavailable,
	tools.ErrorTypeComposition:  codes.FailedPrecondition,
	tools.ErrorTypeDuplicate:    codes.AlreadyExists,
	tools.ErrorTypeConcurrency:  codes.ResourceExhausted,
	tools.ErrorTypeCancellation: codes.Canceled,
}

// StatusError converts err into a gRPC status error. Tool errors keep
// their type, code and tool id in an ErrorInfo detail so FromStatus can
// rebuild them on the client side.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var toolErr *tools.ToolError
	if !errors.As(err, &toolErr) {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return status.Error(codes.DeadlineExceeded, err.Error())
		case errors.Is(err, context.Canceled):
			return status.Error(codes.Canceled, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}

	code, ok := typeCodes[toolErr.Type]
	if !ok {
		code = codes.Internal
	}
	st := status.New(code, toolErr.Message)

	meta := map[string]string{"type": string(toolErr.Type)}
	if toolErr.ToolID != "" {
		meta["toolId"] = toolErr.ToolID
	}
	if toolErr.RetryAfter != nil {
		meta["retryAfterMs"] = strconv.FormatInt(toolErr.RetryAfter.Milliseconds(), 10)
	}
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   toolErr.Code,
		Domain:   ErrorDomain,
		Metadata: meta,
	})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}

// FromStatus rebuilds a *tools.ToolError from a status error produced by
// StatusError. Other errors are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		meta := info.GetMetadata()
		toolErr := tools.NewToolError(tools.ErrorType(meta["type"]), info.GetReason(), st.Message()).
			WithToolID(meta["toolId"]).
			WithCause(err)
		if ms, perr := strconv.ParseInt(meta["retryAfterMs"], 10, 64); perr == nil {
			toolErr.WithRetry(time.Duration(ms) * time.Millisecond)
		}
		return toolErr
	}
	return err
}
