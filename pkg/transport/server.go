package transport

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ag-ui/go-dispatch/pkg/composition"
	"github.com/ag-ui/go-dispatch/pkg/routing"
)

// Service implements DispatchServer over a router and a composition engine.
type Service struct {
	router *routing.Router
	engine *composition.Engine
	logger logrus.FieldLogger
}

var _ DispatchServer = (*Service)(nil)

// NewService creates a dispatch service. A nil logger discards output.
func NewService(router *routing.Router, engine *composition.Engine, logger logrus.FieldLogger) (*Service, error) {
	if router == nil {
		return nil, errors.New("transport: router is required")
	}
	if engine == nil {
		return nil, errors.New("transport: composition engine is required")
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Service{router: router, engine: engine, logger: logger}, nil
}

func invalid(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

// Route executes req.ToolID when set and otherwise routes req.Intent.
func (s *Service) Route(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RouteRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	if req.Intent == "" && req.ToolID == "" {
		return nil, status.Error(codes.InvalidArgument, "intent or toolId is required")
	}

	execCtx := req.Context.ExecutionContext()
	opts := req.Options.options()

	var resp RouteResponse
	var err error
	if req.ToolID != "" {
		resp.Result, err = s.router.ExecuteTool(ctx, req.ToolID, req.Params, execCtx, opts...)
	} else {
		resp.Result, err = s.router.RouteIntelligently(ctx, req.Intent, req.Params, execCtx, opts...)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"intent":  req.Intent,
			"tool_id": req.ToolID,
		}).Debug("route failed")
		return nil, StatusError(err)
	}
	return encode(resp)
}

// Compose plans a workflow and, when req.Execute is set, runs it.
func (s *Service) Compose(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ComposeRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}

	execCtx := req.Context.ExecutionContext()
	plan, err := s.engine.ComposeWorkflow(ctx, req.Intent, req.Params, execCtx, req.options()...)
	if err != nil {
		return nil, StatusError(err)
	}
	resp := ComposeResponse{Plan: plan}
	if req.Execute {
		resp.Result, err = s.engine.ExecuteComposition(ctx, plan, execCtx)
		if err != nil {
			return nil, StatusError(err)
		}
	}
	return encode(resp)
}

// Execute runs a plan produced by an earlier Compose call.
func (s *Service) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ExecuteRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	if req.Plan == nil {
		return nil, status.Error(codes.InvalidArgument, "plan is required")
	}
	result, err := s.engine.ExecuteComposition(ctx, req.Plan, req.Context.ExecutionContext())
	if err != nil {
		return nil, StatusError(err)
	}
	return encode(ExecuteResponse{Result: result})
}

// Stats returns the monitoring snapshot.
func (s *Service) Stats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(s.Snapshot())
}

// Snapshot collects router and composition statistics.
func (s *Service) Snapshot() StatsResponse {
	return StatsResponse{
		Routing:      s.router.GetRoutingStats(),
		Breakers:     s.router.GetCircuitBreakerStatus(),
		Performance:  s.router.GetPerformanceMetrics(),
		Composition:  s.engine.GetCompositionMetrics(),
		Active:       s.engine.GetActiveCompositions(),
		ToolPatterns: s.engine.GetToolPatterns(),
	}
}
